package session

import "errors"

var (
	// ErrOutOfOrder is returned when a request is older than one already processed.
	ErrOutOfOrder = errors.New("request out of order")

	// ErrFinalized is returned when the tracker is used after Finalize.
	ErrFinalized = errors.New("tracker already finalized")

	// ErrInvalidThreshold is returned for a non-positive inactivity threshold.
	ErrInvalidThreshold = errors.New("inactivity threshold must be positive")
)
