package supervisor

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultInitialDelay is the delay before the first reconnect attempt.
	DefaultInitialDelay = time.Second
	// DefaultMaxDelay caps the reconnect delay.
	DefaultMaxDelay = 10 * time.Second
	// DefaultMaxAttempts is the number of consecutive abnormal closures tolerated.
	DefaultMaxAttempts = 5
)

// RetryPolicy configures reconnect backoff.
type RetryPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

// DefaultRetryPolicy returns the 1s/10s/5 policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		MaxAttempts:  DefaultMaxAttempts,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	return p
}

// RetrySchedule tracks consecutive abnormal closures and the delay before the next attempt.
// Delays follow InitialDelay * 2^n capped at MaxDelay, without jitter.
type RetrySchedule struct {
	policy  RetryPolicy
	backoff *backoff.ExponentialBackOff
	attempt int
	next    time.Duration
}

// NewRetrySchedule constructs a schedule at {0, InitialDelay}.
func NewRetrySchedule(policy RetryPolicy) *RetrySchedule {
	policy = policy.withDefaults()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialDelay
	bo.MaxInterval = policy.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	r := &RetrySchedule{policy: policy, backoff: bo}
	r.Reset()
	return r
}

// Policy returns the effective policy.
func (r *RetrySchedule) Policy() RetryPolicy {
	return r.policy
}

// Attempt returns the number of consecutive abnormal closures.
func (r *RetrySchedule) Attempt() int {
	return r.attempt
}

// NextDelay returns the delay the next Advance will yield.
func (r *RetrySchedule) NextDelay() time.Duration {
	return r.next
}

// Reset returns the schedule to {0, InitialDelay}.
func (r *RetrySchedule) Reset() {
	r.backoff.Reset()
	r.attempt = 0
	r.next = r.backoff.NextBackOff()
}

// Advance records an abnormal closure. It returns the delay to wait before reconnecting, or
// ok=false once the attempt counter exceeds MaxAttempts.
func (r *RetrySchedule) Advance() (delay time.Duration, ok bool) {
	r.attempt++
	if r.attempt > r.policy.MaxAttempts {
		return 0, false
	}
	delay = r.next
	next := r.backoff.NextBackOff()
	if next == backoff.Stop {
		next = r.policy.MaxDelay
	}
	r.next = next
	return delay, true
}
