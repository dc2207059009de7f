package health

import "errors"

var (
	// ErrCheckFailed marks a Result whose component reported a problem
	// without an error of its own.
	ErrCheckFailed = errors.New("health: check failed")

	// ErrCheckTimeout is set on a Result when the checker did not return
	// before the aggregator's deadline.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckerNotFound is returned for an unknown checker name.
	ErrCheckerNotFound = errors.New("health: checker not found")
)
