// Package retry applies exponential backoff at collaborator call boundaries.
// Every stage output is keyed deterministically, so re-running a call is safe.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds retries of one call.
type Policy struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy retries three times starting at half a second.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// None performs a single attempt.
func None() Policy {
	return Policy{MaxAttempts: 1}
}

// Do runs op until it succeeds, returns a Permanent error, the policy is
// exhausted or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, name string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	// Attempts are bounded by count; the caller's context bounds time.
	b.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(b, attempts-1), ctx)

	return backoff.RetryNotify(op, bo, func(err error, wait time.Duration) {
		slog.Debug("call failed, retrying", "call", name, "wait_ms", wait.Milliseconds(), "error", err)
	})
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
