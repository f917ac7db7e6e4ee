package scheduler

import "time"

const (
	// MaxAttempts bounds retries of a retryable step failure. The first
	// execution is attempt 0; up to MaxAttempts retries follow.
	MaxAttempts = 3

	baseRetryDelay = 2 * time.Second
)

// RetryDelay returns the exponential backoff before the given retry
// attempt (1-based): 2s, 4s, 8s.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}

	return delay
}
