package app

import (
	"math/rand"
	"time"
)

// Default backoff configuration values.
const (
	DefaultBackoffInitial = 2 * time.Second
	DefaultBackoffMax     = 5 * time.Minute
)

// backoff implements exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// newBackoff creates a new backoff with the given initial and max durations.
func newBackoff(initial, max time.Duration) *backoff {
	return &backoff{
		initial: initial,
		max:     max,
		current: initial,
	}
}

// Next returns the current delay with ±20% jitter and doubles the base for
// the following call, capped at max.
func (b *backoff) Next() time.Duration {
	jitter := float64(b.current) * 0.2 * (rand.Float64()*2 - 1)
	delay := time.Duration(float64(b.current) + jitter)

	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return delay
}

// Reset resets the backoff to the initial duration.
func (b *backoff) Reset() {
	b.current = b.initial
}

// Current returns the current backoff duration.
func (b *backoff) Current() time.Duration {
	return b.current
}
