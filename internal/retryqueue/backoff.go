package retryqueue

import (
	"math"
	"time"
)

const (
	// DefaultBackoffBase is the delay after the first failure.
	DefaultBackoffBase = 60 * time.Second
	// DefaultBackoffCap bounds every delay.
	DefaultBackoffCap = 3600 * time.Second
	// DefaultBackoffMultiplier is the exponential growth factor.
	DefaultBackoffMultiplier = 2.0
)

// BackoffPolicy computes retry delays as min(Base * Multiplier^retryCount, Cap).
// Zero fields take the defaults.
type BackoffPolicy struct {
	Base       time.Duration
	Cap        time.Duration
	Multiplier float64
}

// DefaultBackoff returns the 60s / 3600s / x2 policy.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Base:       DefaultBackoffBase,
		Cap:        DefaultBackoffCap,
		Multiplier: DefaultBackoffMultiplier,
	}
}

func (p BackoffPolicy) normalized() BackoffPolicy {
	if p.Base <= 0 {
		p.Base = DefaultBackoffBase
	}
	if p.Cap <= 0 {
		p.Cap = DefaultBackoffCap
	}
	if p.Cap < p.Base {
		p.Cap = p.Base
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultBackoffMultiplier
	}
	return p
}

// Delay returns the wait before the next attempt of an item that has failed retryCount times.
func (p BackoffPolicy) Delay(retryCount int) time.Duration {
	p = p.normalized()
	if retryCount < 0 {
		retryCount = 0
	}

	delay := float64(p.Base) * math.Pow(p.Multiplier, float64(retryCount))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay >= float64(p.Cap) {
		return p.Cap
	}
	return time.Duration(delay)
}
