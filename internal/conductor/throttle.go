// Package conductor paces snapshot publication for a single subscription.
package conductor

import "time"

// DefaultThrottleInterval is the minimum spacing between published snapshots.
const DefaultThrottleInterval = 100 * time.Millisecond

// Throttle decides when ladder changes turn into published snapshots. Changes inside the
// window coalesce into a single trailing publish; the caller owns the timer and always
// publishes the latest ladder when it fires. A Throttle is owned by one goroutine.
type Throttle struct {
	interval time.Duration
	last     time.Time
	pending  bool
}

// NewThrottle constructs a throttle with the provided interval (<=0 disables throttling).
func NewThrottle(interval time.Duration) *Throttle {
	throttle := new(Throttle)
	throttle.interval = interval
	return throttle
}

// Offer records a ladder change at now. It returns publish=true when the caller should
// publish immediately, or a positive wait when the caller must arm a single deferred publish
// and call Flush when it fires. Both zero means a deferred publish is already pending.
func (t *Throttle) Offer(now time.Time) (publish bool, wait time.Duration) {
	if t.pending {
		return false, 0
	}
	if t.interval <= 0 || t.last.IsZero() {
		t.last = now
		return true, 0
	}
	elapsed := now.Sub(t.last)
	if elapsed >= t.interval {
		t.last = now
		return true, 0
	}
	t.pending = true
	return false, t.interval - elapsed
}

// Flush records the deferred publish performed at now.
func (t *Throttle) Flush(now time.Time) {
	t.pending = false
	t.last = now
}

// Pending reports whether a deferred publish is armed.
func (t *Throttle) Pending() bool {
	return t.pending
}

// Reset forgets publish history so the next change publishes immediately, and drops any
// pending deferred publish. Used on every fresh connection.
func (t *Throttle) Reset() {
	t.last = time.Time{}
	t.pending = false
}
