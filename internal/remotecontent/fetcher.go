// Package remotecontent retrieves remote flow definitions over HTTP and
// decodes them into remoteflow.Content.
package remotecontent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/eugenenazirov/launchkitd/internal/remoteflow"
)

const maxBodyBytes = 4 << 20

// HTTPFetcher GETs <baseURL>/flows/<flowID>.
type HTTPFetcher struct {
	baseURL *url.URL
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*remoteflow.Content]
	logger  *zap.Logger
	clock   func() time.Time
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *HTTPFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithRateLimit throttles outbound requests. rps <= 0 disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(f *HTTPFetcher) {
		if rps <= 0 {
			f.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCircuitBreaker stops calling the content service for cooldown after
// maxFailures consecutive network failures. maxFailures == 0 disables it.
func WithCircuitBreaker(maxFailures uint32, cooldown time.Duration) Option {
	return func(f *HTTPFetcher) {
		if maxFailures == 0 {
			f.breaker = nil
			return
		}
		f.breaker = gobreaker.NewCircuitBreaker[*remoteflow.Content](gobreaker.Settings{
			Name:    "remote-content",
			Timeout: cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.Is(err, remoteflow.ErrNetwork)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				f.logger.Info("circuit breaker state changed",
					zap.String("breaker", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		})
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *HTTPFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewHTTPFetcher builds a fetcher rooted at baseURL.
func NewHTTPFetcher(baseURL string, opts ...Option) (*HTTPFetcher, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse content base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("content base URL must be http or https, got %q", baseURL)
	}

	f := &HTTPFetcher{
		baseURL: u,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  zap.NewNop(),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// document is the wire form of a flow definition.
type document struct {
	ID      string        `json:"id"`
	Version int           `json:"version"`
	Title   string        `json:"title"`
	Payload ldvalue.Value `json:"payload"`
}

// Fetch implements remoteflow.Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, flowID string) (*remoteflow.Content, error) {
	if f.breaker == nil {
		return f.fetch(ctx, flowID)
	}

	content, err := f.breaker.Execute(func() (*remoteflow.Content, error) {
		return f.fetch(ctx, flowID)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, remoteflow.NewLoadError(remoteflow.KindNetwork, "content service unavailable", err)
	}
	return content, err
}

func (f *HTTPFetcher) fetch(ctx context.Context, flowID string) (*remoteflow.Content, error) {
	// JoinPath cleans dot segments, so the id must stay a single segment.
	if err := remoteflow.ValidateFlowID(flowID); err != nil {
		return nil, remoteflow.NewLoadError(remoteflow.KindDecode, "invalid flow id", err)
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, remoteflow.NewLoadError(remoteflow.KindNetwork, "rate limited", err)
		}
	}

	target := f.baseURL.JoinPath("flows", flowID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, remoteflow.NewLoadError(remoteflow.KindNetwork, "build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, remoteflow.NewLoadError(remoteflow.KindNetwork, "", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		return nil, remoteflow.NewLoadError(remoteflow.KindNoContentAvailable, resp.Status, nil)
	case resp.StatusCode != http.StatusOK:
		return nil, remoteflow.NewLoadError(remoteflow.KindNetwork, "unexpected status "+resp.Status, nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, remoteflow.NewLoadError(remoteflow.KindNetwork, "read body", err)
	}

	content, err := decode(body)
	if err != nil {
		return nil, remoteflow.NewLoadError(remoteflow.KindDecode, "", err)
	}
	if content.FlowID != flowID {
		return nil, remoteflow.NewLoadError(remoteflow.KindDecode,
			fmt.Sprintf("payload is for flow %q", content.FlowID), nil)
	}
	content.FetchedAt = f.clock()

	f.logger.Debug("fetched remote flow",
		zap.String("flow_id", flowID),
		zap.Int("version", content.Version),
		zap.Int("bytes", len(body)),
	)
	return content, nil
}

var errMissingID = errors.New("flow document has no id")

func decode(body []byte) (*remoteflow.Content, error) {
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse flow document: %w", err)
	}
	if doc.ID == "" {
		return nil, errMissingID
	}
	return &remoteflow.Content{
		FlowID:  doc.ID,
		Version: doc.Version,
		Title:   doc.Title,
		Payload: doc.Payload,
	}, nil
}
