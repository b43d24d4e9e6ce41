// Package retry implements the shared retry/backoff policy used by the
// crawl queue, the OCR queue, and the orphan-recovery sweep.
package retry

import "time"

// Default policy parameters. The delay doubles per attempt from Base up
// to Cap.
const (
	DefaultBase = time.Minute
	DefaultCap  = time.Hour
)

// Policy maps a failed attempt to either a requeue delay or a terminal
// failure. The zero value is not usable; construct with NewPolicy.
type Policy struct {
	base time.Duration
	cap  time.Duration
}

// Decision is the outcome of consulting the policy after a failure.
type Decision struct {
	// Terminal is true when the retry budget is exhausted and the item
	// must transition to failed.
	Terminal bool

	// Delay is the backoff before the item becomes eligible again.
	// Zero when Terminal.
	Delay time.Duration
}

// NewPolicy creates a policy with the given backoff base and cap.
// Non-positive values fall back to the defaults.
func NewPolicy(base, cap time.Duration) Policy {
	if base <= 0 {
		base = DefaultBase
	}
	if cap <= 0 {
		cap = DefaultCap
	}
	return Policy{base: base, cap: cap}
}

// Default returns a policy with the default base and cap.
func Default() Policy {
	return NewPolicy(DefaultBase, DefaultCap)
}

// Decide evaluates a failure on an item that has been attempted
// `attempts` times (counting the failed attempt). When attempts is
// below maxAttempts the item is requeued with Backoff(attempts);
// otherwise the failure is terminal.
func (p Policy) Decide(attempts, maxAttempts int) Decision {
	if attempts >= maxAttempts {
		return Decision{Terminal: true}
	}
	return Decision{Delay: p.Backoff(attempts)}
}

// Backoff returns the delay before attempt attempts+1, computed as
// base * 2^(attempts-1) capped at cap. Deterministic: no jitter, so the
// schedule for a given attempt count is stable across workers.
func (p Policy) Backoff(attempts int) time.Duration {
	if attempts <= 1 {
		return p.base
	}

	delay := p.base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.cap || delay <= 0 {
			return p.cap
		}
	}
	return delay
}
