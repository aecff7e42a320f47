package infra

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// jitterSpread is the +/- fraction applied around each delay
const jitterSpread = 0.2

// Backoff produces exponentially growing, jittered delays for reconnect loops.
// The n-th consecutive failure waits about min*mult^(n-1), capped at max.
type Backoff struct {
	min  time.Duration
	max  time.Duration
	mult float64

	mu       sync.Mutex
	attempts int
}

func NewBackoff(min, max time.Duration, mult float64) *Backoff {
	if mult < 1 {
		mult = 1
	}
	if max < min {
		max = min
	}
	return &Backoff{min: min, max: max, mult: mult}
}

// Delay is the un-jittered wait before the given 1-based attempt
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return b.min
	}
	d := float64(b.min) * math.Pow(b.mult, float64(attempt-1))
	if d >= float64(b.max) {
		return b.max
	}
	return time.Duration(d)
}

// Next records a failed attempt and returns how long to wait before the next one
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	b.attempts++
	base := b.Delay(b.attempts)
	b.mu.Unlock()

	spread := (rand.Float64()*2 - 1) * jitterSpread
	return max(base+time.Duration(spread*float64(base)), b.min)
}

// Wait sleeps for the next delay. It returns false if ctx ends first
func (b *Backoff) Wait(ctx context.Context) bool {
	t := time.NewTimer(b.Next())
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Reset starts over from the minimum delay after a success
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempts = 0
	b.mu.Unlock()
}

func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
