// Package backoff computes retry delays for failed fetch attempts.
//
// The policy is pure: it owns no clock and never sleeps. Callers compute a
// delay and then wait on it with whatever cancellation they need.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Unbounded disables the consecutive-failure budget.
const Unbounded = -1

// Policy describes an exponential backoff schedule.
type Policy struct {
	// InitialDelay is the base delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps every computed delay.
	MaxDelay time.Duration

	// Factor is the exponential growth factor per attempt.
	Factor float64

	// Jitter is the symmetric random fraction applied to each delay;
	// 0.1 spreads the result over ±10%. Zero disables jitter.
	Jitter float64

	// MaxRetries is the consecutive-failure budget. Negative means
	// retry forever.
	MaxRetries int
}

// Default returns the schedule used when configuration does not override it:
// 500ms doubling up to 60s, ±10% jitter, retrying forever.
func Default() Policy {
	return Policy{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     60 * time.Second,
		Factor:       2.0,
		Jitter:       0.1,
		MaxRetries:   Unbounded,
	}
}

// Delay returns the wait before retry number attempt (zero-based).
// The base is min(MaxDelay, InitialDelay·Factor^attempt); jitter then
// spreads it over [base·(1-Jitter), base·(1+Jitter)].
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	base := time.Duration(float64(p.InitialDelay) * math.Pow(p.Factor, float64(attempt)))
	// Exponential growth overflows time.Duration within a few dozen
	// attempts; a negative product means the cap was passed long ago.
	if base < 0 || base > p.MaxDelay {
		base = p.MaxDelay
	}

	if p.Jitter <= 0 {
		return base
	}

	spread := (rand.Float64()*2 - 1) * p.Jitter
	d := time.Duration(float64(base) * (1 + spread))
	if d < 0 {
		return 0
	}
	return d
}

// Exhausted reports whether the given count of consecutive failures has used
// up the retry budget. A negative MaxRetries never exhausts.
func (p Policy) Exhausted(failures int) bool {
	if p.MaxRetries < 0 {
		return false
	}
	return failures > p.MaxRetries
}
