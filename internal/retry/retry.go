package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Behavior maps an attempt count to a next-delay or a give-up decision. A
// job target opts into a custom Behavior by implementing Retryable;
// otherwise Default applies.
type Behavior struct {
	// Retry, when false, means the target never wants a retry: the
	// first failure is terminal.
	Retry bool

	// RetryCount is the attempt count at which Decide gives up: the
	// RetryCount-th failed attempt is terminal, so at most RetryCount-1
	// retries are scheduled.
	RetryCount uint

	// RetryIn returns the delay, in seconds, before attempt n (1-based)
	// is eligible to run again.
	RetryIn func(attempt uint) float64
}

// Retryable is the capability a job target may implement to opt into a
// custom Behavior instead of Default.
type Retryable interface {
	RetryBehavior() Behavior
}

// BehaviorOf probes target for the Retryable capability, returning its
// custom Behavior if present, else fallback.
func BehaviorOf(target any, fallback Behavior) Behavior {
	if r, ok := target.(Retryable); ok {
		return r.RetryBehavior()
	}
	return fallback
}

// Default is the runtime's built-in policy: RetryCount 25, exponential-ish
// backoff with jitter to avoid thundering herds.
func Default() Behavior {
	return Behavior{
		Retry:      true,
		RetryCount: 25,
		RetryIn:    defaultRetryIn,
	}
}

func defaultRetryIn(attempt uint) float64 {
	n := float64(attempt)
	return math.Pow(n, 4) + 15 + rand.Float64()*30
}

// Decision is the outcome of consulting a Behavior about a failed
// attempt.
type Decision struct {
	// GiveUp is true when the job should transition to Failed instead of
	// being rescheduled.
	GiveUp bool

	// Retries is the updated attempt count to persist (only meaningful
	// when !GiveUp, but always computed for audit purposes).
	Retries uint

	// Delay is the RetryIn value for this attempt (only meaningful when
	// !GiveUp). The worker sets the job's Due to its Added time plus
	// Delay, not to the time of the failure plus Delay.
	Delay time.Duration
}

// Decide applies the C4 decision rule: give up immediately if the
// behavior opts out of retries, otherwise increment the attempt count and
// give up once it reaches RetryCount, else schedule the next attempt via
// RetryIn.
func Decide(b Behavior, currentRetries uint) Decision {
	if !b.Retry {
		return Decision{GiveUp: true, Retries: currentRetries}
	}

	next := currentRetries + 1
	if next >= b.RetryCount {
		return Decision{GiveUp: true, Retries: next}
	}

	retryIn := b.RetryIn
	if retryIn == nil {
		retryIn = defaultRetryIn
	}

	seconds := retryIn(next)
	return Decision{
		Retries: next,
		Delay:   time.Duration(seconds * float64(time.Second)),
	}
}
