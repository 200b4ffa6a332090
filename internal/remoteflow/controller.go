package remoteflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maypok86/otter/v2"
	"go.uber.org/zap"
)

const (
	defaultFetchTimeout = 15 * time.Second
	defaultHandleTTL    = 30 * time.Minute
	defaultMaxHandles   = 10_000

	// GateKey switches every remote flow on or off.
	GateKey = "remote_flows.enabled"
)

// FlowGateKey returns the per-flow switch consulted before fetching.
func FlowGateKey(flowID string) string {
	return "remote_flows." + flowID + ".enabled"
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for lifecycle and invalid-state reports.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithGate makes loads consult config switches before fetching.
func WithGate(gate Gate) Option {
	return func(c *Controller) {
		c.gate = gate
	}
}

// WithFetchTimeout bounds each fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithHandleTTL controls how long idle handles stay addressable by id.
func WithHandleTTL(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.handleTTL = d
		}
	}
}

// WithObserver registers a hook for load and dismissal outcomes.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

// Controller drives remote flow loads and dismissals.
type Controller struct {
	fetcher      Fetcher
	gate         Gate
	logger       *zap.Logger
	observer     Observer
	clock        func() time.Time
	fetchTimeout time.Duration
	handleTTL    time.Duration

	mu       sync.Mutex
	inflight map[string]*Handle
	handles  *otter.Cache[string, *Handle]
}

// NewController creates a Controller that loads content through fetcher.
func NewController(fetcher Fetcher, opts ...Option) (*Controller, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("remote flow fetcher is required")
	}

	c := &Controller{
		fetcher:      fetcher,
		logger:       zap.NewNop(),
		observer:     nopObserver{},
		fetchTimeout: defaultFetchTimeout,
		handleTTL:    defaultHandleTTL,
		inflight:     make(map[string]*Handle),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	handles, err := otter.New(&otter.Options[string, *Handle]{
		MaximumSize:      defaultMaxHandles,
		ExpiryCalculator: otter.ExpiryAccessing[string, *Handle](c.handleTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("build handle registry: %w", err)
	}
	c.handles = handles

	return c, nil
}

// Load starts fetching flowID and returns immediately. onLoad is invoked
// exactly once from another goroutine; onDismiss is invoked at most once,
// after onLoad has returned. Either handler may be nil.
//
// A second Load for a flow that is still loading returns a KindAlreadyLoading
// error and no handle; the first load is unaffected.
func (c *Controller) Load(flowID string, onLoad LoadHandler, onDismiss DismissalHandler) (*Handle, error) {
	if err := ValidateFlowID(flowID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if _, busy := c.inflight[flowID]; busy {
		c.mu.Unlock()
		loadErr := &LoadError{Kind: KindAlreadyLoading, FlowID: flowID, Message: "a load for this flow is in flight"}
		c.logger.Warn("rejected concurrent flow load", zap.String("flow_id", flowID))
		c.observer.FlowLoaded(flowID, loadErr)
		return nil, loadErr
	}
	h := newHandle(uuid.NewString(), flowID, c.clock(), onLoad, onDismiss)
	h.begin()
	c.inflight[flowID] = h
	c.mu.Unlock()

	c.handles.Set(h.id, h)
	c.logger.Debug("flow load started", zap.String("flow_id", flowID), zap.String("handle_id", h.id))

	go c.run(h)
	return h, nil
}

// Lookup returns a registered handle by id.
func (c *Controller) Lookup(id string) (*Handle, bool) {
	return c.handles.GetIfPresent(id)
}

// Dismiss ends a loaded flow with result. Repeated calls are no-ops. Dismissing
// a handle that is idle, loading or failed returns ErrInvalidState and fires nothing.
func (c *Controller) Dismiss(h *Handle, result FlowResult) error {
	if h == nil {
		return ErrUnknownHandle
	}
	if !result.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidResult, result)
	}

	transitioned, fireNow, err := h.dismiss(result)
	if err != nil {
		c.logger.Warn("dismiss rejected",
			zap.String("flow_id", h.flowID),
			zap.String("handle_id", h.id),
			zap.Error(err),
		)
		return err
	}
	if !transitioned {
		c.logger.Debug("duplicate dismiss ignored", zap.String("handle_id", h.id))
		return nil
	}

	c.logger.Info("flow dismissed",
		zap.String("flow_id", h.flowID),
		zap.String("handle_id", h.id),
		zap.Stringer("result", result),
	)
	c.observer.FlowDismissed(h.flowID, result)
	if fireNow {
		c.fireDismiss(h, result)
	}
	return nil
}

// DismissByID looks up a handle and dismisses it.
func (c *Controller) DismissByID(id string, result FlowResult) error {
	h, ok := c.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, id)
	}
	return c.Dismiss(h, result)
}

// InFlight reports whether flowID is currently loading.
func (c *Controller) InFlight(flowID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[flowID]
	return ok
}

func (c *Controller) run(h *Handle) {
	content, loadErr := c.fetch(h.flowID)
	h.resolve(content, loadErr)
	// Refresh the registry entry; a slow fetch may outlive the access TTL.
	c.handles.Set(h.id, h)

	// Released before the handler runs so that it may retry right away.
	c.mu.Lock()
	delete(c.inflight, h.flowID)
	c.mu.Unlock()

	if loadErr != nil {
		c.logger.Warn("flow load failed",
			zap.String("flow_id", h.flowID),
			zap.String("handle_id", h.id),
			zap.Stringer("kind", loadErr.Kind),
			zap.Error(loadErr),
		)
	} else {
		c.logger.Info("flow loaded",
			zap.String("flow_id", h.flowID),
			zap.String("handle_id", h.id),
			zap.Int("version", content.Version),
		)
	}
	c.observer.FlowLoaded(h.flowID, loadErr)

	c.fireLoad(h, content, loadErr)
	if result, pending := h.loadReturned(); pending {
		c.fireDismiss(h, result)
	}
}

func (c *Controller) fetch(flowID string) (content *Content, loadErr *LoadError) {
	defer func() {
		if rec := recover(); rec != nil {
			content = nil
			loadErr = &LoadError{Kind: KindNetwork, FlowID: flowID, Message: fmt.Sprintf("fetcher panic: %v", rec)}
		}
	}()

	if c.gate != nil && (!c.gate.Bool(GateKey, true) || !c.gate.Bool(FlowGateKey(flowID), true)) {
		return nil, &LoadError{Kind: KindNoContentAvailable, FlowID: flowID, Message: "disabled by config"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
	defer cancel()

	content, err := c.fetcher.Fetch(ctx, flowID)
	if err != nil {
		return nil, toLoadError(flowID, err)
	}
	if content == nil {
		return nil, &LoadError{Kind: KindNoContentAvailable, FlowID: flowID}
	}
	if content.FlowID == "" {
		content.FlowID = flowID
	}
	if content.FetchedAt.IsZero() {
		content.FetchedAt = c.clock()
	}
	return content, nil
}

func (c *Controller) fireLoad(h *Handle, content *Content, loadErr *LoadError) {
	if h.onLoad == nil {
		return
	}
	defer c.recoverHandler(h, "load")
	h.onLoad(content, loadErr)
}

func (c *Controller) fireDismiss(h *Handle, result FlowResult) {
	if h.onDismiss == nil {
		return
	}
	defer c.recoverHandler(h, "dismissal")
	h.onDismiss(result)
}

func (c *Controller) recoverHandler(h *Handle, which string) {
	if rec := recover(); rec != nil {
		c.logger.Error("flow handler panicked",
			zap.String("handler", which),
			zap.String("flow_id", h.flowID),
			zap.String("handle_id", h.id),
			zap.Any("panic", rec),
		)
	}
}
