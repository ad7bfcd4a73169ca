package transport

import (
	"math"
	"time"
)

// Backoff configures retry of registration and connection attempts.
type Backoff struct {
	Factor  float64
	Min     time.Duration
	Max     time.Duration
	Retries int
}

// DefaultBackoff matches the orchestration service's expectations for reconnecting clients.
var DefaultBackoff = Backoff{Factor: 2, Min: 500 * time.Millisecond, Max: 5 * time.Second, Retries: 100}

// maxDelay caps the delay when Max is not set.
const maxDelay = time.Hour

// Delay returns the wait before retry number attempt (0-based). rnd in [0,1)
// randomizes the delay between one and two times the exponential step. The
// result never exceeds Max, or an hour when Max is not set.
func (b Backoff) Delay(attempt int, rnd float64) time.Duration {
	factor := b.Factor
	if factor <= 0 {
		factor = 2
	}
	if b.Min <= 0 {
		return 0
	}
	limit := b.Max
	if limit <= 0 {
		limit = maxDelay
	}
	d := (1 + rnd) * float64(b.Min) * math.Pow(factor, float64(attempt))
	if d > float64(limit) {
		return limit
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}
