// Package retry runs an operation under a bounded exponential backoff.
// It is shared by every outbound call: chain RPC, inference and blob uploads.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Second,
	}
}

// Permanent marks err as not worth retrying. Do returns the unwrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// backOff builds the schedule for p without jitter, so delays are exactly
// BaseDelay * Multiplier^(n-1) capped at MaxDelay.
func (p Policy) backOff() *backoff.ExponentialBackOff {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Duration(math.MaxInt64)
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          mult,
		MaxInterval:         maxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// Delay returns the wait before attempt n+1, n starting at 1.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	b := p.backOff()
	var d time.Duration
	for i := 0; i < n; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Do calls op until it succeeds, returns a Permanent error, the attempts run
// out or ctx is done. The last error from op is returned.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var lastErr error
	b := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(attempts-1)), ctx)
	err := backoff.Retry(func() error {
		lastErr = op(ctx)
		return lastErr
	}, b)

	// a cancelled wait reports ctx.Err(); callers want the failure that caused it
	if err != nil && ctx.Err() != nil && lastErr != nil {
		var perm *backoff.PermanentError
		if errors.As(lastErr, &perm) {
			return perm.Err
		}
		return lastErr
	}
	return err
}
