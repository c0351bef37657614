package service

import "errors"

// Sentinel errors shared by the in-memory managers. Callers distinguish
// classes of failure with errors.Is; the wrapped message carries the
// specifics.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNoOptimalSlots = errors.New("no optimal slots configured")
	ErrNotPending     = errors.New("publication is not pending")
	ErrTestCompleted  = errors.New("test is not running")
	ErrNoData         = errors.New("no data recorded")
)
