package resilience

import (
	"math/rand/v2"
	"time"
)

// Backoff returns base doubled for every attempt after the first, spread by ±jitter (a
// fraction, 0.2 means 20%).
func Backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base << (max(attempt, 1) - 1)
	if jitter <= 0 {
		return d
	}
	spread := float64(d) * jitter
	return d + time.Duration((rand.Float64()*2-1)*spread)
}

// BackoffCapped is Backoff limited to ceiling when ceiling is positive.
func BackoffCapped(base time.Duration, attempt int, jitter float64, ceiling time.Duration) time.Duration {
	d := Backoff(base, attempt, jitter)
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}
