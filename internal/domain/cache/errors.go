package cache

import "errors"

// Sentinel kinds for cache errors.
var (
	ErrCorrupt = errors.New("cached value corrupt")
)
