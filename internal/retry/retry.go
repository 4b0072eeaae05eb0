// Package retry bounds acquisition attempts. Only transient
// acquisition failures are retried; permanent ones abort immediately.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"ringba-rpc-alerts/internal/errs"
)

// Strategy selects how the delay grows between attempts.
type Strategy string

const (
	// StrategyLinear waits base, 2*base, 3*base, ...
	StrategyLinear Strategy = "linear"
	// StrategyExponential waits base, 2*base, 4*base, ... capped at MaxDelay.
	StrategyExponential Strategy = "exponential"
)

// Policy tunes the executor.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Strategy    Strategy
}

// DefaultPolicy matches the documented defaults: three attempts,
// capped-exponential backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Second,
		MaxDelay:    time.Minute,
		Strategy:    StrategyExponential,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Strategy == "" {
		p.Strategy = StrategyExponential
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = time.Minute
	}
	return p
}

// Delay returns the wait before attempt n+1 (n is 1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Strategy {
	case StrategyLinear:
		d = time.Duration(attempt) * p.BaseDelay
	default:
		d = p.BaseDelay
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Execute runs fn until it succeeds, fails permanently, or the policy
// is exhausted. Exhaustion yields an *errs.ExhaustedError carrying the
// last failure and any diagnostic artifact it produced.
func Execute[T any](ctx context.Context, policy Policy, logger zerolog.Logger, fn func(context.Context) (T, error)) (T, error) {
	policy = policy.withDefaults()

	var zero T
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !errs.IsTransient(err) {
			logger.Error().Err(err).Int("attempt", attempt).Msg("permanent failure, not retrying")
			return zero, err
		}

		if attempt == policy.MaxAttempts {
			break
		}

		delay := policy.Delay(attempt)
		logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", policy.MaxAttempts).
			Dur("delay", delay).
			Msg("transient failure, retrying")

		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	exhausted := &errs.ExhaustedError{Attempts: policy.MaxAttempts, Last: lastErr}
	var acq *errs.AcquisitionError
	if errors.As(lastErr, &acq) && acq.Artifact != "" {
		exhausted.ArtifactPath = acq.Artifact
	}
	return zero, exhausted
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
