package relay

import (
	"math/rand"
	"time"
)

// BackoffConfig tunes the reconnect delay schedule for a relay connection.
type BackoffConfig struct {
	Min    time.Duration // first retry delay
	Max    time.Duration // hard cap on any delay
	Factor float64       // growth per consecutive failure
	Jitter float64       // additive jitter fraction, 0..1
}

// DefaultBackoffConfig returns the schedule used in production: 1s doubling
// to a 60s cap with up to 20% added jitter.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Min:    1 * time.Second,
		Max:    60 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Backoff produces an exponentially growing delay sequence with additive
// jitter. The jitter only adds to the base delay, so with Factor >= 1+Jitter
// the returned sequence is non-decreasing until it saturates at Max. Not
// goroutine-safe; each Connection owns its own.
type Backoff struct {
	cfg     BackoffConfig
	current time.Duration
}

// NewBackoff creates a Backoff starting at cfg.Min.
func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg, current: cfg.Min}
}

// Next returns the delay to wait before the next attempt and advances the
// schedule.
func (b *Backoff) Next() time.Duration {
	base := b.current
	if base > b.cfg.Max {
		base = b.cfg.Max
	}

	next := time.Duration(float64(b.current) * b.cfg.Factor)
	if next > b.cfg.Max {
		next = b.cfg.Max
	}
	b.current = next

	delay := base
	if b.cfg.Jitter > 0 {
		delay += time.Duration(rand.Float64() * b.cfg.Jitter * float64(base))
	}
	if delay > b.cfg.Max {
		delay = b.cfg.Max
	}
	return delay
}

// Reset returns the schedule to its minimum delay. Called after a sustained
// period of successful delivery.
func (b *Backoff) Reset() {
	b.current = b.cfg.Min
}
