package entitle

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy computes retry delays. Implementations must be safe for
// concurrent use.
type BackoffStrategy interface {
	// NextInterval returns the delay before retry number attempt.
	// Attempt starts at 1 for the first retry.
	NextInterval(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with jitter.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	JitterFactor    float64
}

// NextInterval implements BackoffStrategy.
// Formula: min(InitialInterval * Multiplier^(attempt-1) * (1 ± JitterFactor), MaxInterval)
func (e ExponentialBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	initial := e.InitialInterval
	if initial == 0 {
		initial = 100 * time.Millisecond
	}
	max := e.MaxInterval
	if max == 0 {
		max = 10 * time.Second
	}
	multiplier := e.Multiplier
	if multiplier == 0 {
		multiplier = 2
	}

	interval := float64(initial) * math.Pow(multiplier, float64(attempt-1))

	// Jitter spreads concurrent retries so racing workers do not collide on
	// the same record again in lockstep.
	if e.JitterFactor > 0 {
		interval *= 1 + (rand.Float64()*2-1)*e.JitterFactor
	}

	if interval > float64(max) {
		interval = float64(max)
	}
	return time.Duration(interval)
}

// FixedBackoff retries on a constant delay. Zero delay makes retries
// immediate, which tests rely on.
type FixedBackoff struct {
	Interval time.Duration
}

// NextInterval implements BackoffStrategy.
func (f FixedBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return f.Interval
}

// DefaultBackoffStrategy returns the backoff used when a Config does not
// provide one.
func DefaultBackoffStrategy() BackoffStrategy {
	return ExponentialBackoff{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
		JitterFactor:    0.1,
	}
}
