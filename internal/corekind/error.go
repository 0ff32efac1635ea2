// Package corekind defines the typed error kinds shared across the agent
// core: the loop, the tool executor, the retrieval pipeline, and the
// index coordinator all return errors built from a small closed set of
// kinds so callers can branch on Kind rather than string-matching.
package corekind

import "fmt"

// Kind is a closed classification of core-level failures.
type Kind string

const (
	InvalidInput       Kind = "invalid_input"       // tool arg shape
	NotFound           Kind = "not_found"           // tool, symbol, or chunk
	PermissionDenied   Kind = "permission_denied"    // explicit rule, user deny, or mode restriction
	HookRejected       Kind = "hook_rejected"        // pre/post hook refusal
	Cancelled          Kind = "cancelled"            // token tripped
	Timeout            Kind = "timeout"              // per-call or stream-stall
	Internal           Kind = "internal"             // task panic, lock poison
	NotReady           Kind = "not_ready"             // index state
	ChunkLimitExceeded Kind = "chunk_limit_exceeded"  // budget
	DimensionMismatch  Kind = "dimension_mismatch"    // embedding
	StorageFailure     Kind = "storage_failure"       // store I/O
	ProviderError      Kind = "provider_error"        // stream error, rate limit, overload
)

// Error is the concrete error type carrying a Kind plus an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error with a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	ce, ok := err.(*Error)
	return ok && ce.Kind == kind
}

// Recoverable reports whether a loop-level error of this kind should be
// surfaced to the UI as recoverable=true. Provider errors are retryable
// by nature; blocking-limit and session-creation failures are not.
func Recoverable(kind Kind) bool {
	switch kind {
	case ProviderError, Timeout, NotReady:
		return true
	default:
		return false
	}
}
