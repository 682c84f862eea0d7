// Package apierr defines the typed failures returned by entity actions.
//
// Every failure carries a Kind for machine consumers and a Message that is shown to the
// caller verbatim. Wrapped collaborator errors keep their text so a rejected card or a
// database constraint reads the same in the envelope as it did at the source.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	Validation             Kind = "validation"
	InvalidStateTransition Kind = "invalid_state_transition"
	NotFound               Kind = "not_found"
	Persistence            Kind = "persistence"
	PaymentGateway         Kind = "payment_gateway"
	RelatedObjectLoad      Kind = "related_object_load"
	Completion             Kind = "completion"
	Internal               Kind = "internal"
)

// E wraps an error with kind and human-friendly message.
type E struct {
	Kind    Kind
	Message string
	Err     error
	// Trace is a goroutine stack captured where the failure was wrapped. It is logged,
	// never returned to callers.
	Trace []byte
}

func (e *E) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *E) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *E { return &E{Kind: kind, Message: msg} }

func Newf(kind Kind, format string, args ...any) *E {
	return &E{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }

// WithTrace attaches a captured stack.
func (e *E) WithTrace(trace []byte) *E {
	e.Trace = trace
	return e
}

// KindOf reports the kind of the first *E in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// TraceOf returns the stack captured for err, if any.
func TraceOf(err error) []byte {
	var e *E
	if errors.As(err, &e) {
		return e.Trace
	}
	return nil
}
