// Package backoff provides exponential backoff for the transport's
// reconnect scheduling.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the delay before the first retry (attempt 0).
	Initial time.Duration
	// Floor is the minimum delay ever returned.
	Floor time.Duration
	// Max caps the computed delay.
	Max time.Duration
	// Factor is the exponential growth factor per attempt.
	Factor float64
	// Jitter is an additive randomization factor in [0, 1]. The jitter
	// term is base*Jitter*random, so with Factor >= 1+Jitter the delay
	// sequence stays monotonically non-decreasing.
	Jitter float64
}

// DefaultPolicy matches the transport defaults: 1s initial, doubling,
// floored at 1s and capped at 30s, 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Initial: time.Second,
		Floor:   time.Second,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Delay calculates the backoff duration for a given attempt number.
// Attempts are 0-indexed: attempt 0 yields the initial delay.
func Delay(policy Policy, attempt int) time.Duration {
	return DelayWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// DelayWithRand calculates the backoff duration using a provided random
// value in [0, 1), for deterministic tests.
func DelayWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt), 0)

	base := float64(policy.Initial) * math.Pow(policy.Factor, exp)
	jitter := base * policy.Jitter * randomValue

	total := base + jitter
	if max := float64(policy.Max); policy.Max > 0 && total > max {
		total = max
	}
	if floor := float64(policy.Floor); total < floor {
		total = floor
	}
	return time.Duration(total)
}
