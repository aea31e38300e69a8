package domain

import (
	"errors"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrSigningFailed      = errors.New("signing failed")
	ErrLockHeld           = errors.New("lock already held")
	ErrFetch              = errors.New("fetch failed")
	ErrStale              = errors.New("stale data")
	ErrExecution          = errors.New("execution failed")
	ErrAssetHalted        = errors.New("asset halted")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrInsufficientBudget = errors.New("insufficient budget")
)

// ConfigError reports every problem found in a rejected configuration. It
// matches ErrInvalidConfig under errors.Is.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "invalid configuration:\n  - " + strings.Join(e.Problems, "\n  - ")
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }
