package worker

import (
	"math"
	"math/rand"
	"time"
)

// BackoffFunc computes the defer delay for a retried job given its new
// try count. Config.BackoffFunc defaults to ExponentialBackoff.
type BackoffFunc func(attempt int) time.Duration

func ExponentialBackoff(attempt int) time.Duration {
	base := 2 * time.Second

	capDelay := 5 * time.Minute
	// attempt=0 => 2s
	// attempt=1 => 4s
	// attempt=2 => 8s

	multiple := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(base) * multiple)

	if delay > capDelay {
		delay = capDelay
	}

	// small jitter (0–250ms) to avoid thundering herd
	delay += time.Duration(rand.Intn(250)) * time.Millisecond
	return delay
}

// LinearBackoff mirrors the source's "n seconds" retry policy: attempt=0
// waits 1s, attempt=1 waits 2s, and so on. Kept as a documented alternative
// rather than the default (see DESIGN.md's Open Question resolution).
func LinearBackoff(attempt int) time.Duration {
	return time.Duration(attempt+1) * time.Second
}