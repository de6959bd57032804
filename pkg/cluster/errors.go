package cluster

import "errors"

// Configuration errors
var (
	ErrInvalidNodeID       = errors.New("node ID cannot be empty")
	ErrTTLTooSmall         = errors.New("heartbeat TTL must be greater than heartbeat interval")
	ErrInvalidInterval     = errors.New("intervals must be positive")
	ErrInvalidThreshold    = errors.New("failure threshold must be at least 1")
	ErrInvalidBackoff      = errors.New("probe backoff max must be at least backoff min")
)

// Store errors
var (
	ErrStoreUnavailable = errors.New("coordination store unavailable")
	ErrNotFound         = errors.New("not found in coordination store")
	ErrStoreClosed      = errors.New("coordination store closed")
)

// Bus errors
var (
	ErrMalformedMessage = errors.New("malformed cluster message")
	ErrUnknownMessage   = errors.New("unknown cluster message type")
)
