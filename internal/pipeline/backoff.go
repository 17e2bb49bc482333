package pipeline

import (
	"math/rand/v2"
	"time"
)

const (
	backoffBase   = time.Second
	backoffFactor = 2
	backoffCap    = 5 * time.Minute
	backoffJitter = 0.25
)

// Backoff returns the requeue delay before retry number attempt
// (attempt 0 is the first retry): exponential from 1s, capped at 5m,
// with ±25% jitter so retries from concurrent failures spread out.
func Backoff(attempt int) time.Duration {
	d := backoffBase
	for i := 0; i < attempt && d < backoffCap; i++ {
		d *= backoffFactor
	}
	if d > backoffCap {
		d = backoffCap
	}

	jitter := 1 + backoffJitter*(2*rand.Float64()-1)
	d = time.Duration(float64(d) * jitter)
	if d < 0 {
		d = 0
	}
	return d
}
