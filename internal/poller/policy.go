package poller

import (
	"fmt"
	"time"
)

// Policy bounds the not-ready retry loop. The n-th retry (0-based) waits
// BaseDelay * Factor^n.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Factor     int
}

// DefaultPolicy waits 1s, 2s, 4s, 8s and 16s before giving up.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 5, BaseDelay: time.Second, Factor: 2}
}

// Validate rejects policies that could retry forever or never back off.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0 (got %d)", p.MaxRetries)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be > 0 (got %s)", p.BaseDelay)
	}
	if p.Factor < 1 {
		return fmt.Errorf("backoff factor must be >= 1 (got %d)", p.Factor)
	}
	return nil
}

// Delay returns the sleep before the retry that follows attempt.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= time.Duration(p.Factor)
	}
	return d
}

// Schedule lists every delay the policy can produce, in order.
func (p Policy) Schedule() []time.Duration {
	delays := make([]time.Duration, 0, p.MaxRetries)
	for attempt := 0; attempt < p.MaxRetries; attempt++ {
		delays = append(delays, p.Delay(attempt))
	}
	return delays
}
