package infra

import (
	"time"
)

const (
	// Standard backoff constants
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// Backoff is an exponential delay policy: Base * 2^retry, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff is used when a venue does not specify its own policy.
var DefaultBackoff = Backoff{Base: baseDelay, Max: maxDelay}

// Delay returns the wait before attempt retry (0-based).
// A negative retry count returns Base.
func (b Backoff) Delay(retry int) time.Duration {
	base, limit := b.Base, b.Max
	if base <= 0 {
		base = baseDelay
	}
	if limit < base {
		limit = base
	}
	if retry <= 0 {
		return base
	}

	// 2^30 * 1ns already exceeds any sane cap once multiplied by base.
	if retry > 30 {
		return limit
	}

	backoff := base * time.Duration(1<<retry)
	if backoff > limit || backoff <= 0 {
		return limit
	}
	return backoff
}
