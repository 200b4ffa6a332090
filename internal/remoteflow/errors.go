package remoteflow

import (
	"errors"
	"fmt"
	"strings"
)

// LoadErrorKind classifies why a load failed.
type LoadErrorKind uint8

const (
	// KindNetwork is a transport failure; a fresh Load may succeed.
	KindNetwork LoadErrorKind = iota + 1
	// KindDecode is a malformed remote payload.
	KindDecode
	// KindNoContentAvailable means the server has nothing for the flow. Callers should skip it.
	KindNoContentAvailable
	// KindAlreadyLoading rejects a duplicate concurrent load of the same flow.
	KindAlreadyLoading
)

func (k LoadErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindDecode:
		return "decode"
	case KindNoContentAvailable:
		return "no_content_available"
	case KindAlreadyLoading:
		return "already_loading"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k LoadErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

var (
	// Sentinels for errors.Is matching by kind.
	ErrNetwork            = &LoadError{Kind: KindNetwork}
	ErrDecode             = &LoadError{Kind: KindDecode}
	ErrNoContentAvailable = &LoadError{Kind: KindNoContentAvailable}
	ErrAlreadyLoading     = &LoadError{Kind: KindAlreadyLoading}

	// ErrInvalidState is returned when dismissing a handle that is not loaded.
	ErrInvalidState = errors.New("invalid handle state")
	// ErrUnknownHandle is returned when a handle id is not registered.
	ErrUnknownHandle = errors.New("unknown handle")
	// ErrInvalidResult is returned for flow results outside the defined set.
	ErrInvalidResult = errors.New("invalid flow result")
	// ErrEmptyFlowID is returned when Load is called without a flow identifier.
	ErrEmptyFlowID = errors.New("flow identifier must not be empty")
	// ErrInvalidFlowID is returned for identifiers that are not a single path segment.
	ErrInvalidFlowID = errors.New("flow identifier must be a single path segment")
)

// ValidateFlowID rejects identifiers that cannot name a flow: empty ids,
// ids containing a slash, and the dot segments.
func ValidateFlowID(flowID string) error {
	switch {
	case flowID == "":
		return ErrEmptyFlowID
	case flowID == "." || flowID == ".." || strings.ContainsRune(flowID, '/'):
		return fmt.Errorf("%w: %q", ErrInvalidFlowID, flowID)
	}
	return nil
}

// LoadError describes a failed load.
type LoadError struct {
	Kind    LoadErrorKind `json:"kind"`
	FlowID  string        `json:"flowId,omitempty"`
	Message string        `json:"message,omitempty"`
	Err     error         `json:"-"`
}

// NewLoadError builds a LoadError; err may be nil.
func NewLoadError(kind LoadErrorKind, message string, err error) *LoadError {
	return &LoadError{Kind: kind, Message: message, Err: err}
}

func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("load ")
	if e.FlowID != "" {
		b.WriteString(e.FlowID)
		b.WriteByte(' ')
	}
	b.WriteString("failed: ")
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is matches any *LoadError of the same kind.
func (e *LoadError) Is(target error) bool {
	t, ok := target.(*LoadError)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether issuing a fresh Load may help.
func (e *LoadError) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindDecode
}

// toLoadError normalises a fetcher error and stamps it with flowID.
func toLoadError(flowID string, err error) *LoadError {
	var le *LoadError
	if errors.As(err, &le) {
		out := *le
		out.FlowID = flowID
		if out.Kind == 0 {
			out.Kind = KindNetwork
		}
		return &out
	}
	return &LoadError{Kind: KindNetwork, FlowID: flowID, Err: err}
}
