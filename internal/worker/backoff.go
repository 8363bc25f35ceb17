package worker

import (
	"math/rand"
	"time"
)

// backoffDelay computes the retry delay for the given attempt number:
// base × 2^attempt, capped at max, plus up to 20% jitter.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt > 16 {
		attempt = 16
	}

	d := base * (1 << uint(attempt))
	if d <= 0 || d > max {
		d = max
	}

	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	return d + jitter
}
