package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound    = errors.New("key not found")
	ErrUnavailable = errors.New("store unavailable")
	ErrClosed      = errors.New("store closed")
	ErrInvalidKey  = errors.New("invalid key")
)
