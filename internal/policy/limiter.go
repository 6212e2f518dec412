// Package policy implements the Policy Gate: the sliding-window rate
// limiter, token-budget admission check, and DLP gate that run in fixed
// order on every inbound request before it reaches the dispatcher.
package policy

import (
	"sync"
	"time"
)

// SlidingWindowLimiter holds one deque of admission timestamps per
// backend name. It is the only piece of shared mutable state in the
// rate-limiting path, guarded by a single mutex whose critical section
// is bounded by the number of entries inside the current window.
//
// golang.org/x/time/rate implements a token bucket, not a strictly
// sliding window; §4.4.1 and invariant 7 require the latter exactly
// (at any instant t, admitted requests in (t-W, t] must be <= N), so
// this is hand-rolled rather than built on that library — see DESIGN.md.
type SlidingWindowLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewSlidingWindowLimiter returns an empty limiter.
func NewSlidingWindowLimiter() *SlidingWindowLimiter {
	return &SlidingWindowLimiter{windows: make(map[string][]time.Time)}
}

// Allow evaluates one admission attempt for backend at time now. A
// maxRequests of 0 disables the limiter for that backend. On admission
// it records now in the deque; on denial the deque is left pruned but
// unmodified otherwise.
func (l *SlidingWindowLimiter) Allow(backendName string, maxRequests uint32, window time.Duration, now time.Time) bool {
	if maxRequests == 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-window)
	timestamps := l.windows[backendName]
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if uint32(len(kept)) >= maxRequests {
		l.windows[backendName] = kept
		return false
	}

	kept = append(kept, now)
	l.windows[backendName] = kept
	return true
}
