package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, queues and collaborators
// return these (optionally wrapped) so services can translate them into
// coded domain errors.
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrQueueFull    = errors.New("queue full")
	ErrClosed       = errors.New("closed")
)
