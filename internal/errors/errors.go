// Package errors implements the taxonomy described in spec §7: kinds,
// not types, so callers branch on behavior (retry? degrade? surface?)
// rather than on concrete Go types.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure by how the pipeline should react to it.
type Kind int

const (
	// KindValidation: bad configuration or malformed inbound event.
	KindValidation Kind = iota
	// KindTransientRemote: transport/timeout/5xx — retried, then
	// degrades (empty embedding, fallback verdict, vector-only search).
	KindTransientRemote
	// KindCircuitOpen: an instance or decorator rejected fast.
	KindCircuitOpen
	// KindFatalRemote: a 4xx other than rate-limit.
	KindFatalRemote
	// KindCancelled: propagated verbatim, never retried.
	KindCancelled
	// KindCorruption: a persisted object failed schema validation on read.
	KindCorruption
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransientRemote:
		return "transient_remote"
	case KindCircuitOpen:
		return "circuit_open"
	case KindFatalRemote:
		return "fatal_remote"
	case KindCancelled:
		return "cancelled"
	case KindCorruption:
		return "corruption"
	default:
		return "unknown"
	}
}

// OperationError is the teacher's structured error shape: an operation
// name, the component that attempted it, an optional resource
// identifier, and the underlying cause.
type OperationError struct {
	Operation string
	Component string
	Resource  string
	Kind      Kind
	Cause     error
}

func (e *OperationError) Error() string {
	msg := "failed to " + e.Operation
	if e.Component != "" {
		msg += ", component: " + e.Component
	}
	if e.Resource != "" {
		msg += ", resource: " + e.Resource
	}
	if e.Cause != nil {
		msg += ", cause: " + e.Cause.Error()
	}
	return msg
}

func (e *OperationError) Unwrap() error { return e.Cause }

// FailedTo builds a plain "failed to <action>: <cause>" error for the
// common "action failed because cause" case, wrapping cause with %w. It
// is not an OperationError and carries no Kind of its own.
func FailedTo(action string, cause error) error {
	if cause == nil {
		return fmt.Errorf("failed to %s", action)
	}
	return fmt.Errorf("failed to %s: %w", action, cause)
}

// Classify inspects err and assigns a Kind, using a textual match for
// the retriable-condition vocabulary spec §4.1 names explicitly
// ("timeout", "connection", "network") plus context cancellation.
func Classify(err error) Kind {
	if err == nil {
		return KindValidation
	}
	if errors.Is(err, errCancelled) {
		return KindCancelled
	}
	var opErr *OperationError
	if errors.As(err, &opErr) && opErr.Kind != 0 {
		return opErr.Kind
	}
	if isContextCancelled(err) {
		return KindCancelled
	}
	if containsAny(err.Error(), "timeout", "connection", "network", "eof", "reset by peer") {
		return KindTransientRemote
	}
	return KindFatalRemote
}

var errCancelled = errors.New("cancelled")

// Cancelled wraps an error to mark it as an explicit, non-retriable
// cancellation.
func Cancelled(cause error) error {
	return &OperationError{Operation: "process", Kind: KindCancelled, Cause: cause}
}

func isContextCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func containsAny(s string, subs ...string) bool {
	lower := toLower(s)
	for _, sub := range subs {
		if indexOf(lower, sub) >= 0 {
			return true
		}
	}
	return false
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}
