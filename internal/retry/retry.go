// Package retry implements bounded backoff for transient failures.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	apperrors "github.com/telepipe/telepipe/internal/errors"
)

// Policy controls how an operation is retried.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         bool
}

// DefaultPolicy returns the retry policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
	}
}

// Do runs op until it succeeds, fails permanently, exhausts the attempt
// budget, or ctx is canceled. Only errors classified retryable by
// errors.IsRetryable are retried; the last error is returned on failure.
func (p Policy) Do(ctx context.Context, op func() error) error {
	backoff := p.InitialBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if !apperrors.IsRetryable(err) {
			return err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return err
		}

		delay := backoff
		if p.Jitter {
			delay = time.Duration(float64(delay) * (0.5 + rand.Float64()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		backoff = time.Duration(float64(backoff) * p.multiplier())
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
}

func (p Policy) multiplier() float64 {
	if p.Multiplier <= 1 {
		return 2.0
	}
	return p.Multiplier
}
