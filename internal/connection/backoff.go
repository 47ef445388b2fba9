package connection

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff computes reconnect delays: min(delay*2^attempt, max) with a random deviation
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Jitter float64

	mu   sync.Mutex
	rand func() float64
}

// NewBackoff creates a backoff policy
func NewBackoff(minDelay, maxDelay time.Duration, jitter float64) *Backoff {
	return &Backoff{
		Min:    minDelay,
		Max:    maxDelay,
		Jitter: jitter,
		rand:   rand.Float64,
	}
}

// WithRand replaces the random source, used for deterministic tests
func (b *Backoff) WithRand(fn func() float64) *Backoff {
	b.mu.Lock()
	b.rand = fn
	b.mu.Unlock()
	return b
}

// Duration returns the delay before reconnect attempt n (zero based)
func (b *Backoff) Duration(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(b.Min) * math.Pow(2, float64(attempt))

	if b.Jitter > 0 {
		b.mu.Lock()
		source := b.rand
		if source == nil {
			source = rand.Float64
		}
		r := source()
		b.mu.Unlock()

		deviation := math.Floor(r * b.Jitter * delay)
		if int(math.Floor(r*10))&1 == 0 {
			delay -= deviation
		} else {
			delay += deviation
		}
	}

	// Cap at max delay
	if ceiling := float64(b.Max); b.Max > 0 && delay > ceiling {
		delay = ceiling
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
