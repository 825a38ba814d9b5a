package dispatch

import "errors"

// Domain errors for the dispatch package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, dispatch.ErrUnknownAction) {
//	    // reply with the unsupported-request text
//	}
var (
	// ErrUnknownAction is returned when a directive names an action that is not supported.
	ErrUnknownAction = errors.New("dispatch: unknown action")

	// ErrPublishTimeout is the cause of a branch that did not settle in time.
	ErrPublishTimeout = errors.New("dispatch: publish timed out")

	// ErrPublishPanic is the cause of a branch whose publisher panicked.
	ErrPublishPanic = errors.New("dispatch: publisher panicked")
)

// Reasons attached to DispatchFailed outcomes. They are short, stable, and
// never contain topics.
const (
	ReasonTimeout            = "timeout"
	ReasonTransport          = "transport error"
	ReasonInvalidDestination = "invalid destination"
	ReasonPanic              = "internal error"
)
