package skill

import "errors"

// Domain errors for the skill package.
var (
	// ErrInvalidDirective is returned when a directive payload cannot be used.
	ErrInvalidDirective = errors.New("skill: invalid directive")

	// ErrSuperseded is returned by Handle when the request was cancelled
	// before its response was ready. No response should be sent.
	ErrSuperseded = errors.New("skill: request superseded")
)
