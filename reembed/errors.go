package reembed

import "errors"

var (
	// ErrTargetRequired is returned when no Target is supplied.
	ErrTargetRequired = errors.New("reembed target is required")

	// ErrInvalidMaxAttempts is returned when a config allows no attempts.
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")
)
