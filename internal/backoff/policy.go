// Package backoff computes jittered exponential delays and retries operations
// with them.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines an exponential backoff curve.
type Policy struct {
	// Initial is the delay before the second attempt.
	Initial time.Duration
	// Max caps every delay.
	Max time.Duration
	// Factor multiplies the delay after each attempt.
	Factor float64
	// Jitter is the fraction of the base delay (0.0 to 1.0) added at random.
	Jitter float64
}

// Delay returns the delay after the given failed attempt (1-indexed):
// min(Max, Initial*Factor^(attempt-1) + jitter).
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// delayWithRand is Delay with a caller-supplied random value in [0, 1).
func (p Policy) delayWithRand(attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	total := base + base*p.Jitter*random
	if p.Max > 0 {
		total = math.Min(float64(p.Max), total)
	}
	return time.Duration(math.Round(total))
}

// DefaultPolicy is 100ms doubling to 30s with 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Initial: 100 * time.Millisecond,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// ModelCallPolicy starts at base, doubles to 30s and adds 20% jitter. It is
// used for retrying model requests that fail before any output arrives.
func ModelCallPolicy(base time.Duration) Policy {
	if base <= 0 {
		base = time.Second
	}
	return Policy{
		Initial: base,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}
