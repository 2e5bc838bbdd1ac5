package errors

import "fmt"

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	// ErrNotFound is returned when a message id resolves to nothing.
	// Surfaced to the caller, never retried.
	ErrNotFound = fmt.Errorf("message not found")

	// ErrUnauthorized is returned when a recall is requested by
	// someone other than the original sender.
	ErrUnauthorized = fmt.Errorf("requester is not the message sender")

	// ErrInvalidState covers recalls past the window and status
	// transitions the state machine does not allow.
	ErrInvalidState = fmt.Errorf("operation not allowed in current message state")

	// ErrValidation is returned for drafts missing required fields or
	// carrying unknown content/kind values.
	ErrValidation = fmt.Errorf("invalid message draft")

	// ErrPersistence wraps store failures on the write path. Callers
	// are expected to retry; the operation is never silently swallowed.
	ErrPersistence = fmt.Errorf("persistence failure")

	// ErrPublish wraps event-bus publish failures. A send that cannot
	// durably enqueue its created-event fails as a whole.
	ErrPublish = fmt.Errorf("event publish failure")
)
