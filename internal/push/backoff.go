package push

import "time"

// Backoff computes reconnect delays. Attempt numbers are 1-based; the delay
// doubles each attempt and never exceeds Max.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Delay returns the wait before the given attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	maxDelay := b.Max
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// Exhausted reports whether attempt exceeds the configured attempt budget.
func (b Backoff) Exhausted(attempt int) bool {
	limit := b.MaxAttempts
	if limit <= 0 {
		limit = 5
	}
	return attempt > limit
}
