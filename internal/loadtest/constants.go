package loadtest

import "time"

// Defaults.
const (
	defaultBaseURL    = "http://localhost:9080"
	defaultTimeout    = 30 * time.Second
	defaultResultWait = 10 * time.Second
)

// Worker configuration constants.
const (
	workerChannelMultiplier = 2
)

// Report constants.
const (
	percentageMultiplier = 100
	p50                  = 0.50
	p99                  = 0.99
)
