package projector

import "time"

// Backoff computes the waiting time between retries.
type Backoff interface {
	// Reset starts over with the shortest waiting time.
	Reset()
	// Duration returns the next waiting time.
	Duration() time.Duration
}

// BackoffBuilder creates a backoff.
type BackoffBuilder func() (Backoff, error)

// NewSimpleBackoff returns a backoff waiting step longer on every call, but at
// most max.
func NewSimpleBackoff(step, max time.Duration) Backoff {
	return &simpleBackoff{
		step: step,
		max:  max,
	}
}

type simpleBackoff struct {
	current time.Duration
	step    time.Duration
	max     time.Duration
}

func (b *simpleBackoff) Reset() {
	b.current = 0
}

func (b *simpleBackoff) Duration() time.Duration {
	b.current += b.step
	if b.max > 0 && b.current > b.max {
		b.current = b.max
	}
	return b.current
}
