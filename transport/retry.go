package transport

import (
	"context"
	"math/rand"
	"time"
)

// IdempotentMethods lists the MCP methods this module considers safe to
// retry automatically: read-only lookups and the liveness check. Mutating
// calls (tools/call, sampling/createMessage, elicitation/create, ...) are
// deliberately excluded — a retried tools/call could run a side-effecting
// tool twice.
var IdempotentMethods = map[string]bool{
	"tools/list":     true,
	"resources/list": true,
	"prompts/list":   true,
	"ping":           true,
}

// RetryPolicy configures exponential backoff with jitter for a bounded set
// of retry attempts. The zero value is invalid; use DefaultRetryPolicy.
type RetryPolicy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterFactor      float64
}

// DefaultRetryPolicy mirrors this module's default tuning: three attempts,
// starting at 100ms and doubling up to a 5s ceiling, with 20% jitter to
// avoid synchronized retry storms across many connections.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.2,
	}
}

// delay returns the backoff duration before retry attempt n (1-indexed).
func (p RetryPolicy) delay(n int) time.Duration {
	d := float64(p.BaseDelay) * pow(p.BackoffMultiplier, n-1)
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	if p.JitterFactor > 0 {
		jitter := d * p.JitterFactor
		d += jitter * (2*rand.Float64() - 1)
		if d < 0 {
			d = 0
		}
	}
	return time.Duration(d)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Do retries fn up to MaxAttempts times with exponential backoff, stopping
// early on success or when ctx is cancelled during a backoff wait. Every
// error fn returns is retried; Do does not classify errors.
// Callers are expected to have already checked IdempotentMethods before
// calling Do — Do itself has no notion of which RPC method is being
// attempted.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}
	return err
}
