package remotecontent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/launchkitd/internal/remoteflow"
)

func newFlowServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /flows/onboarding_v2", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"onboarding_v2","version":3,"title":"Welcome","payload":{"screens":[{"kind":"card"}]}}`))
	})
	mux.HandleFunc("GET /flows/garbled", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":`))
	})
	mux.HandleFunc("GET /flows/anonymous", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"version":1}`))
	})
	mux.HandleFunc("GET /flows/mislabelled", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"other"}`))
	})
	mux.HandleFunc("GET /flows/empty", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /flows/flaky", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPFetcherDecodesFlow(t *testing.T) {
	srv := newFlowServer(t)
	f, err := NewHTTPFetcher(srv.URL+"/", WithLogger(zaptest.NewLogger(t)), WithRateLimit(100, 10))
	require.NoError(t, err)

	content, err := f.Fetch(context.Background(), "onboarding_v2")
	require.NoError(t, err)

	assert.Equal(t, "onboarding_v2", content.FlowID)
	assert.Equal(t, 3, content.Version)
	assert.Equal(t, "Welcome", content.Title)
	assert.Equal(t, ldvalue.ObjectType, content.Payload.Type())
	assert.Equal(t, 1, content.Payload.GetByKey("screens").Count())
	assert.False(t, content.FetchedAt.IsZero())
}

func TestHTTPFetcherClassifiesFailures(t *testing.T) {
	srv := newFlowServer(t)
	f, err := NewHTTPFetcher(srv.URL)
	require.NoError(t, err)

	cases := map[string]error{
		"garbled":     remoteflow.ErrDecode,
		"anonymous":   remoteflow.ErrDecode,
		"mislabelled": remoteflow.ErrDecode,
		"empty":       remoteflow.ErrNoContentAvailable,
		"missing":     remoteflow.ErrNoContentAvailable,
		"flaky":       remoteflow.ErrNetwork,
	}
	for flowID, want := range cases {
		t.Run(flowID, func(t *testing.T) {
			_, err := f.Fetch(context.Background(), flowID)
			require.ErrorIs(t, err, want)
		})
	}
}

func TestHTTPFetcherTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f, err := NewHTTPFetcher(url)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "anything")
	require.ErrorIs(t, err, remoteflow.ErrNetwork)
}

func TestHTTPFetcherCircuitBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/flows/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	f, err := NewHTTPFetcher(srv.URL, WithCircuitBreaker(2, time.Minute))
	require.NoError(t, err)

	// Missing content is not a failure of the content service.
	for range 3 {
		_, err := f.Fetch(context.Background(), "missing")
		require.ErrorIs(t, err, remoteflow.ErrNoContentAvailable)
	}

	for range 2 {
		_, err := f.Fetch(context.Background(), "down")
		require.ErrorIs(t, err, remoteflow.ErrNetwork)
	}
	require.Equal(t, int32(5), hits.Load())

	_, err = f.Fetch(context.Background(), "down")
	require.ErrorIs(t, err, remoteflow.ErrNetwork)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(5), hits.Load(), "open circuit must not reach the server")
}

func TestHTTPFetcherStaysUnderBasePath(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	f, err := NewHTTPFetcher(srv.URL + "/v1")
	require.NoError(t, err)

	for _, id := range []string{"../../admin", "..", "nested/flow"} {
		_, err := f.Fetch(context.Background(), id)
		require.ErrorIs(t, err, remoteflow.ErrDecode, id)
		require.ErrorIs(t, err, remoteflow.ErrInvalidFlowID, id)
	}
	assert.Equal(t, int32(0), hits.Load(), "no request may leave for an invalid id")
}

func TestNewHTTPFetcherRejectsBadURL(t *testing.T) {
	_, err := NewHTTPFetcher("ftp://example.com")
	require.Error(t, err)
	_, err = NewHTTPFetcher("://nope")
	require.Error(t, err)
}

func TestHTTPFetcherDrivesController(t *testing.T) {
	srv := newFlowServer(t)
	f, err := NewHTTPFetcher(srv.URL)
	require.NoError(t, err)

	c, err := remoteflow.NewController(f, remoteflow.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	h, err := c.Load("onboarding_v2", nil, nil)
	require.NoError(t, err)
	content, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, content.Version)

	h, err = c.Load("flaky", nil, nil)
	require.NoError(t, err)
	_, err = h.Wait(context.Background())
	require.ErrorIs(t, err, remoteflow.ErrNetwork)
	assert.Equal(t, "flaky", h.LoadErr().FlowID)
}

func TestStaticFetcher(t *testing.T) {
	f := NewStaticFetcher(map[string]remoteflow.Content{
		"a": {FlowID: "a", Version: 1},
	})
	f.Put(remoteflow.Content{FlowID: "b", Version: 2})

	c, err := f.Fetch(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Version)

	_, err = f.Fetch(context.Background(), "zzz")
	require.ErrorIs(t, err, remoteflow.ErrNoContentAvailable)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Fetch(ctx, "a")
	require.ErrorIs(t, err, remoteflow.ErrNetwork)
}
