package provider

import (
	"context"
	"time"

	"github.com/avast/retry-go"

	"github.com/cuemby/paddock/pkg/log"
)

// RetryPolicy bounds the retry wrapper around cloud calls
type RetryPolicy struct {
	Attempts  uint
	BaseDelay time.Duration
	MaxJitter time.Duration
}

// DefaultRetryPolicy matches the broker defaults: three attempts with an
// exponential schedule starting at one second
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  3,
		BaseDelay: time.Second,
		MaxJitter: 250 * time.Millisecond,
	}
}

// Retry runs op under the retry policy, retrying only transient
// provider errors, and classifies whatever error survives. Cancellation is
// honored between attempts.
func Retry(ctx context.Context, policy RetryPolicy, op string, fn func() error) error {
	logger := log.WithComponent("provider")
	err := retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn()
		},
		retry.Attempts(policy.Attempts),
		retry.Delay(policy.BaseDelay),
		retry.MaxJitter(policy.MaxJitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if ctx.Err() != nil {
				return false
			}
			return IsTransient(err)
		}),
		retry.OnRetry(func(attempt uint, err error) {
			logger.Warn().
				Str("operation", op).
				Uint("attempt", attempt+1).
				Err(err).
				Msg("transient provider error, retrying")
		}),
	)
	if err != nil {
		return Classify(op, err)
	}
	return nil
}
