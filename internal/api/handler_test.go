package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/launchkitd/internal/configstore"
	"github.com/eugenenazirov/launchkitd/internal/remotecontent"
	"github.com/eugenenazirov/launchkitd/internal/remoteflow"
	"github.com/eugenenazirov/launchkitd/internal/resolver"
)

type controllableClock struct {
	mu  sync.RWMutex
	now time.Time
}

func newControllableClock(initial time.Time) *controllableClock {
	return &controllableClock{now: initial}
}

func (c *controllableClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *controllableClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestHandler(t *testing.T, clock func() time.Time) (*Handler, *remotecontent.StaticFetcher) {
	t.Helper()

	logger := zaptest.NewLogger(t)
	store, err := configstore.NewStore(map[string]configstore.Value{
		"retry_count": configstore.Int(3),
	}, configstore.WithClock(clock))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	res := resolver.New(store)

	fetcher := remotecontent.NewStaticFetcher(map[string]remoteflow.Content{
		"onboarding_v2": {FlowID: "onboarding_v2", Version: 2, Title: "Welcome", Payload: ldvalue.Bool(true)},
	})
	controller, err := remoteflow.NewController(fetcher,
		remoteflow.WithLogger(logger),
		remoteflow.WithGate(res),
	)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	return NewHandler(store, res, controller, WithClock(clock), WithHandlerLogger(logger)), fetcher
}

func setupTestRouter(t *testing.T) (http.Handler, *controllableClock) {
	t.Helper()

	clock := newControllableClock(time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC))
	handler, _ := newTestHandler(t, clock.Now)
	logger := zaptest.NewLogger(t)
	router := NewRouter(handler, logger, WithLogging(false))

	return router, clock
}

func doRequest(t *testing.T, router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

func TestRequestIDHelpers(t *testing.T) {
	ctx := contextWithRequestID(context.Background(), "abc")
	if got := requestIDFromContext(ctx); got != "abc" {
		t.Fatalf("expected abc, got %s", got)
	}
	resp := httptest.NewRecorder()
	writeInternalError(resp, assertError("boom"))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.Code)
	}
}

type assertError string

func (a assertError) Error() string { return string(a) }

func TestHealthEndpoint(t *testing.T) {
	router, clock := setupTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	body := decodeBody[struct {
		Status        string    `json:"status"`
		Timestamp     time.Time `json:"timestamp"`
		ConfigVersion uint64    `json:"configVersion"`
	}](t, rec)

	if body.Status != "ok" {
		t.Fatalf("expected status ok, got %s", body.Status)
	}
	if !body.Timestamp.Equal(clock.Now()) {
		t.Fatalf("expected timestamp %s, got %s", clock.Now(), body.Timestamp)
	}
	if body.ConfigVersion != 0 {
		t.Fatalf("expected defaults-only version 0, got %d", body.ConfigVersion)
	}
}

func TestPutConfigReplacesStore(t *testing.T) {
	router, clock := setupTestRouter(t)
	clock.Advance(time.Hour)

	rec := doRequest(t, router, http.MethodPut, "/api/config", `{"feature_x": "yes", "ratio": 0.5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody[struct {
		Version   uint64         `json:"version"`
		UpdatedAt time.Time      `json:"updatedAt"`
		Values    map[string]any `json:"values"`
		Message   string         `json:"message"`
	}](t, rec)

	if body.Version != 1 {
		t.Fatalf("expected version 1, got %d", body.Version)
	}
	if !body.UpdatedAt.Equal(clock.Now()) {
		t.Fatalf("expected updatedAt %s, got %s", clock.Now(), body.UpdatedAt)
	}
	if body.Values["feature_x"] != "yes" || body.Values["ratio"] != 0.5 {
		t.Fatalf("unexpected values %v", body.Values)
	}
	if body.Values["retry_count"] != float64(3) {
		t.Fatalf("expected defaults to remain visible, got %v", body.Values)
	}
	if body.Message == "" {
		t.Fatalf("expected success message")
	}

	rec = doRequest(t, router, http.MethodGet, "/api/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestPutConfigRejectsInvalidDocument(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := doRequest(t, router, http.MethodPut, "/api/config", `[1, 2, 3]`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestResolveConfig(t *testing.T) {
	router, _ := setupTestRouter(t)

	if rec := doRequest(t, router, http.MethodPut, "/api/config", "feature_x: \"yes\"\ntitle: Hello\nratio: 0.25\n"); rec.Code != http.StatusOK {
		t.Fatalf("seed config failed: %d", rec.Code)
	}

	cases := []struct {
		target string
		want   any
	}{
		{"/api/config/retry_count?type=int&default=7", float64(3)},
		{"/api/config/missing?type=int&default=3", float64(3)},
		{"/api/config/feature_x?type=bool&default=false", false},
		{"/api/config/ratio?type=double&default=1", 0.25},
		{"/api/config/retry_count?type=double&default=1.5", 1.5},
		{"/api/config/title", "Hello"},
		{"/api/config/missing?type=string&default=fallback", "fallback"},
		{"/api/config/missing?type=string", nil},
	}

	for _, tc := range cases {
		t.Run(tc.target, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodGet, tc.target, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rec.Code)
			}
			body := decodeBody[struct {
				Value any `json:"value"`
			}](t, rec)
			if body.Value != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, body.Value)
			}
		})
	}
}

func TestResolveConfigRejectsBadInput(t *testing.T) {
	router, _ := setupTestRouter(t)

	for _, target := range []string{
		"/api/config/x?type=int&default=abc",
		"/api/config/x?type=bool&default=maybe",
		"/api/config/x?type=double&default=NaNa",
		"/api/config/x?type=list",
	} {
		rec := doRequest(t, router, http.MethodGet, target, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

type statusBody struct {
	HandleID string `json:"handleId"`
	FlowID   string `json:"flowId"`
	State    string `json:"state"`
	Result   string `json:"result"`
	Content  *struct {
		Version int `json:"version"`
	} `json:"content"`
	Error *struct {
		Kind string `json:"kind"`
	} `json:"error"`
}

func TestFlowLoadAndDismiss(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/api/flows/onboarding_v2/load", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rec.Code)
	}
	started := decodeBody[statusBody](t, rec)
	if started.HandleID == "" || started.FlowID != "onboarding_v2" {
		t.Fatalf("unexpected load response %+v", started)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/flows/handles/"+started.HandleID+"?wait=2s", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	loaded := decodeBody[statusBody](t, rec)
	if loaded.State != "loaded" || loaded.Content == nil || loaded.Content.Version != 2 {
		t.Fatalf("unexpected handle status %+v", loaded)
	}

	target := "/api/flows/handles/" + started.HandleID + "/dismiss"
	rec = doRequest(t, router, http.MethodPost, target, `{"result":"completed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	dismissed := decodeBody[statusBody](t, rec)
	if dismissed.State != "dismissed" || dismissed.Result != "completed" {
		t.Fatalf("unexpected dismiss response %+v", dismissed)
	}

	// idempotent: the second dismiss keeps the first result
	rec = doRequest(t, router, http.MethodPost, target, `{"result":"cancelled_by_user"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 on repeat dismiss, got %d", rec.Code)
	}
	if again := decodeBody[statusBody](t, rec); again.Result != "completed" {
		t.Fatalf("expected result to stay completed, got %s", again.Result)
	}
}

func TestFlowLoadFailureAndInvalidDismiss(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/api/flows/promo_banner/load", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rec.Code)
	}
	started := decodeBody[statusBody](t, rec)

	rec = doRequest(t, router, http.MethodGet, "/api/flows/handles/"+started.HandleID+"?wait=2s", "")
	failed := decodeBody[statusBody](t, rec)
	if failed.State != "failed" || failed.Error == nil || failed.Error.Kind != "no_content_available" {
		t.Fatalf("unexpected handle status %+v", failed)
	}

	rec = doRequest(t, router, http.MethodPost, "/api/flows/handles/"+started.HandleID+"/dismiss", `{"result":"completed"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
}

func TestFlowGatedByConfig(t *testing.T) {
	router, _ := setupTestRouter(t)

	if rec := doRequest(t, router, http.MethodPut, "/api/config", `{"remote_flows": {"onboarding_v2": {"enabled": false}}}`); rec.Code != http.StatusOK {
		t.Fatalf("seed config failed: %d", rec.Code)
	}

	rec := doRequest(t, router, http.MethodPost, "/api/flows/onboarding_v2/load", "")
	started := decodeBody[statusBody](t, rec)

	rec = doRequest(t, router, http.MethodGet, "/api/flows/handles/"+started.HandleID+"?wait=2s", "")
	status := decodeBody[statusBody](t, rec)
	if status.State != "failed" || status.Error == nil || status.Error.Kind != "no_content_available" {
		t.Fatalf("expected gated flow to fail with no content, got %+v", status)
	}
}

func TestDismissValidation(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/api/flows/handles/unknown/dismiss", `{"result":"completed"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown handle, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPost, "/api/flows/handles/unknown/dismiss", `{"result":"exploded"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad result, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPost, "/api/flows/handles/unknown/dismiss", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad payload, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/flows/handles/unknown", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown handle, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("expected JSON error body")
	}
}

type recordingConfigObserver struct {
	mu       sync.Mutex
	versions []uint64
}

func (o *recordingConfigObserver) ConfigSynced(version uint64, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err == nil {
		o.versions = append(o.versions, version)
	}
}

func TestPutConfigNotifiesObserver(t *testing.T) {
	handler, _ := newTestHandler(t, time.Now)
	obs := &recordingConfigObserver{}
	WithConfigObserver(obs)(handler)
	router := NewRouter(handler, zaptest.NewLogger(t), WithLogging(false))

	for range 2 {
		rec := doRequest(t, router, http.MethodPut, "/api/config", `{"feature_x": true}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
	}
	rec := doRequest(t, router, http.MethodPut, "/api/config", `[1]`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.versions) != 2 || obs.versions[0] != 1 || obs.versions[1] != 2 {
		t.Fatalf("expected versions [1 2] reported, got %v", obs.versions)
	}
}

func TestDismissRejectsOversizedBody(t *testing.T) {
	router, _ := setupTestRouter(t)

	body := `{"result":"completed","note":"` + strings.Repeat("x", maxDismissBodyBytes) + `"}`
	rec := doRequest(t, router, http.MethodPost, "/api/flows/handles/unknown/dismiss", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", rec.Code)
	}
}

func TestLoadRejectsMultiSegmentFlowID(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/api/flows/promo%2Fv2/load", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for multi-segment flow id, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestConcurrentLoadReturnsConflict(t *testing.T) {
	clock := newControllableClock(time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC))
	handler, _ := newTestHandler(t, clock.Now)

	blocking := &blockingFetcher{release: make(chan struct{})}
	controller, err := remoteflow.NewController(blocking, remoteflow.WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	handler.controller = controller
	router := NewRouter(handler, zaptest.NewLogger(t), WithLogging(false))

	rec := doRequest(t, router, http.MethodPost, "/api/flows/slow/load", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rec.Code)
	}
	rec = doRequest(t, router, http.MethodPost, "/api/flows/slow/load", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
	close(blocking.release)
}

type blockingFetcher struct {
	release chan struct{}
}

func (b *blockingFetcher) Fetch(ctx context.Context, flowID string) (*remoteflow.Content, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return &remoteflow.Content{FlowID: flowID}, nil
}
