package remoteflow

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Handle is one load/display session of a remote flow.
type Handle struct {
	id        string
	flowID    string
	createdAt time.Time
	onLoad    LoadHandler
	onDismiss DismissalHandler
	done      chan struct{}

	mu             sync.Mutex
	state          State
	content        *Content
	err            *LoadError
	result         FlowResult
	loadFired      bool
	pendingDismiss bool
}

func newHandle(id, flowID string, now time.Time, onLoad LoadHandler, onDismiss DismissalHandler) *Handle {
	return &Handle{
		id:        id,
		flowID:    flowID,
		createdAt: now,
		onLoad:    onLoad,
		onDismiss: onDismiss,
		done:      make(chan struct{}),
		state:     StateIdle,
	}
}

// ID is the unique session identifier.
func (h *Handle) ID() string { return h.id }

// FlowID is the identifier the flow was loaded with.
func (h *Handle) FlowID() string { return h.flowID }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Content returns the loaded content, or nil if the load has not succeeded.
func (h *Handle) Content() *Content {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.content
}

// LoadErr returns the load failure, or nil.
func (h *Handle) LoadErr() *LoadError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Result returns the dismissal result once the handle is dismissed.
func (h *Handle) Result() (FlowResult, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.state == StateDismissed
}

// Done is closed after the load handler has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the load resolves or ctx is done. Abandoning a wait
// does not cancel the load.
func (h *Handle) Wait(ctx context.Context) (*Content, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	return h.content, nil
}

// Status is a point-in-time copy of a handle.
type Status struct {
	ID        string      `json:"handleId"`
	FlowID    string      `json:"flowId"`
	State     State       `json:"state"`
	CreatedAt time.Time   `json:"createdAt"`
	Content   *Content    `json:"content,omitempty"`
	Error     *LoadError  `json:"error,omitempty"`
	Result    *FlowResult `json:"result,omitempty"`
}

// Status returns a consistent copy of the handle's fields.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Status{
		ID:        h.id,
		FlowID:    h.flowID,
		State:     h.state,
		CreatedAt: h.createdAt,
		Content:   h.content,
		Error:     h.err,
	}
	if h.state == StateDismissed {
		r := h.result
		st.Result = &r
	}
	return st
}

func (h *Handle) begin() {
	h.mu.Lock()
	h.state = StateLoading
	h.mu.Unlock()
}

func (h *Handle) resolve(content *Content, err *LoadError) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err != nil {
		h.state = StateFailed
		h.err = err
		return
	}
	h.state = StateLoaded
	h.content = content
}

// loadReturned marks the load handler as finished and reports a dismissal
// that was requested while it ran.
func (h *Handle) loadReturned() (FlowResult, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.loadFired = true
	close(h.done)
	if !h.pendingDismiss {
		return 0, false
	}
	h.pendingDismiss = false
	return h.result, true
}

// dismiss applies the dismissed transition. transitioned is false for a
// repeated dismiss; fireNow is false when the load handler has not returned
// yet, in which case loadReturned picks the result up.
func (h *Handle) dismiss(result FlowResult) (transitioned, fireNow bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateDismissed:
		return false, false, nil
	case StateLoaded:
		h.state = StateDismissed
		h.result = result
		if !h.loadFired {
			h.pendingDismiss = true
			return true, false, nil
		}
		return true, true, nil
	default:
		return false, false, fmt.Errorf("%w: cannot dismiss %s handle %s", ErrInvalidState, h.state, h.id)
	}
}
