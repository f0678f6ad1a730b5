package checker

import "time"

// Status is the terminal outcome of one key check.
type Status string

const (
	// StatusAvailable means the remote service reported the key as free.
	StatusAvailable Status = "available"

	// StatusTaken means the remote service reported the key as in use.
	StatusTaken Status = "taken"

	// StatusError means the check failed terminally after retries and
	// fallback.
	StatusError Status = "error"
)

// CheckResult is produced exactly once per key by exactly one worker and
// consumed exactly once by the runner's aggregator.
type CheckResult struct {
	Key       string
	Status    Status
	Latency   time.Duration
	Reason    string // set only for StatusError
	FromCache bool   // outcome served by the cache, no remote call made
}

// statusOf maps an availability flag to its outcome.
func statusOf(available bool) Status {
	if available {
		return StatusAvailable
	}
	return StatusTaken
}

// RunStats aggregates per-run counters and latency figures.
type RunStats struct {
	Total     int
	Available int
	Taken     int
	Errors    int
	CacheHits int

	Elapsed    time.Duration
	MinLatency time.Duration
	MaxLatency time.Duration
	AvgLatency time.Duration
}

