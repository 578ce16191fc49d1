package domain

import "errors"

// Sentinel errors used across layers.
var (
	ErrMalformedBundle = errors.New("malformed sample bundle")
	ErrWindowNotReady  = errors.New("stats window not yet full")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrNoSuchSensor    = errors.New("no such sensor")
)
