package hvaerr

import "time"

// Backoff is a bounded exponential backoff with no jitter, matching the
// hub client's reconnect cadence (initial 1s, doubling, capped at 60s).
type Backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// NewBackoff creates a Backoff starting at initial and capped at max.
func NewBackoff(initial, max time.Duration) *Backoff {
	return &Backoff{initial: initial, max: max, current: initial}
}

// Next returns the current delay and doubles it for the following call,
// capped at max.
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Reset restores the backoff to its initial delay.
func (b *Backoff) Reset() {
	b.current = b.initial
}
