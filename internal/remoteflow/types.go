package remoteflow

import (
	"context"
	"fmt"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
)

// State is the lifecycle position of a Handle.
type State uint8

const (
	StateIdle State = iota
	StateLoading
	StateLoaded
	StateFailed
	StateDismissed
)

var stateNames = [...]string{
	StateIdle:      "idle",
	StateLoading:   "loading",
	StateLoaded:    "loaded",
	StateFailed:    "failed",
	StateDismissed: "dismissed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateDismissed
}

// FlowResult describes how a presented flow ended.
type FlowResult uint8

const (
	ResultCompleted FlowResult = iota + 1
	ResultCancelledByUser
	ResultDismissedProgrammatically
	ResultError
)

var resultNames = map[FlowResult]string{
	ResultCompleted:                 "completed",
	ResultCancelledByUser:           "cancelled_by_user",
	ResultDismissedProgrammatically: "dismissed_programmatically",
	ResultError:                     "error",
}

// ParseFlowResult converts the wire name of a result.
func ParseFlowResult(name string) (FlowResult, error) {
	for r, n := range resultNames {
		if n == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidResult, name)
}

// Valid reports whether r is one of the defined results.
func (r FlowResult) Valid() bool {
	_, ok := resultNames[r]
	return ok
}

func (r FlowResult) String() string {
	if n, ok := resultNames[r]; ok {
		return n
	}
	return fmt.Sprintf("result(%d)", r)
}

// MarshalText implements encoding.TextMarshaler.
func (r FlowResult) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Content is a decoded remote flow ready to be handed to a presentation layer.
type Content struct {
	FlowID    string        `json:"flowId"`
	Version   int           `json:"version"`
	Title     string        `json:"title,omitempty"`
	Payload   ldvalue.Value `json:"payload"`
	FetchedAt time.Time     `json:"fetchedAt"`
}

// LoadHandler receives the outcome of a load. Exactly one argument is non-nil.
type LoadHandler func(content *Content, err *LoadError)

// DismissalHandler receives the result a loaded flow was dismissed with.
type DismissalHandler func(result FlowResult)

// Fetcher retrieves and decodes remote flow content. Errors that are not a
// *LoadError are treated as network failures.
type Fetcher interface {
	Fetch(ctx context.Context, flowID string) (*Content, error)
}

// Gate decides whether flows are enabled. *resolver.Resolver satisfies it.
type Gate interface {
	Bool(key string, def bool) bool
}

// Observer is notified of load outcomes and dismissals, typically to record metrics.
type Observer interface {
	FlowLoaded(flowID string, err *LoadError)
	FlowDismissed(flowID string, result FlowResult)
}

type nopObserver struct{}

func (nopObserver) FlowLoaded(string, *LoadError)      {}
func (nopObserver) FlowDismissed(string, FlowResult) {}
