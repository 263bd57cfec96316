package errors

import "errors"

// Pipeline error taxonomy. Component failures are matched with errors.Is
// at the orchestrator boundary and converted to safe defaults there.
var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEvent marks an inbound event whose gateway message id
	// was already processed. Dropped silently.
	ErrDuplicateEvent = errors.New("duplicate event")
	// ErrValidation marks malformed classifier output. Substituted with
	// defaults, never shown to the user.
	ErrValidation = errors.New("validation failed")
	// ErrTransient marks an unreachable or timed-out dependency after its
	// bounded retry was spent.
	ErrTransient = errors.New("transient dependency failure")
	// ErrFatalPipeline marks an unexpected internal invariant violation.
	// The turn is logged as failed and the generic fallback reply is sent.
	ErrFatalPipeline = errors.New("fatal pipeline error")
)
