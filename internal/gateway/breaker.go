package gateway

import (
	"sync"
	"time"
)

// breaker is a per-destination circuit breaker. It opens after a run of
// consecutive failures, stays open for the cooldown window, then lets a
// probe through; the next success resets it. State is in-process only:
// the breaker sheds load, it does not carry correctness.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration

	failures  int
	openUntil time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown}
}

// allow reports whether a call may proceed.
func (b *breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.After(b.openUntil)
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}

func (b *breaker) recordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = now.Add(b.cooldown)
	}
}

// open reports whether the breaker is currently tripped.
func (b *breaker) open(now time.Time) bool {
	return !b.allow(now)
}
