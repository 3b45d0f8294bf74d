package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/studyloop/ai-orchestrator/services/providers"
)

// ErrRetryExhausted is returned when every attempt failed or when the next
// scheduled attempt could not fit inside the caller's deadline.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// RetryConfig tunes the retry policy for a single logical provider call.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// BaseDelay is the sleep before the second attempt.
	BaseDelay time.Duration

	// Multiplier grows the delay per attempt (delay = base * multiplier^(n-1)).
	Multiplier float64

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// Jitter adds up to this fraction of the delay as random slack.
	Jitter float64

	// PerAttemptTimeout bounds each individual attempt independently of the
	// overall request deadline. Zero disables it.
	PerAttemptTimeout time.Duration
}

// DefaultRetryConfig matches the production defaults: 3 attempts, 1s base
// delay doubling per attempt, capped at 60s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2.0,
		MaxDelay:    60 * time.Second,
		Jitter:      0.1,
	}
}

// Retrier wraps a single provider call with bounded retries and exponential
// backoff. It never sleeps past the caller's deadline: when the next scheduled
// attempt would land beyond it, the call fails immediately instead.
type Retrier struct {
	cfg    RetryConfig
	logger *zap.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a retrier with the given configuration.
func NewRetrier(cfg RetryConfig, logger *zap.Logger) *Retrier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRetryConfig().MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultRetryConfig().BaseDelay
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = DefaultRetryConfig().Multiplier
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultRetryConfig().MaxDelay
	}
	return &Retrier{
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Execute runs fn up to MaxAttempts times. Failures classified as retryable
// (timeout, unavailable, rate-limited) sleep through exponential backoff
// before the next attempt; an invalid request short-circuits with zero
// additional attempts. Rate-limited failures back off twice as long as the
// schedule would otherwise dictate.
func (r *Retrier) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		attemptCtx := ctx
		cancel := func() {}
		if r.cfg.PerAttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.PerAttemptTimeout)
		}

		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if !providers.IsRetryable(err) {
			return err
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrRetryExhausted, ctx.Err())
		}

		delay := r.backoff(attempt)
		if providers.KindOf(err) == providers.ErrKindRateLimited {
			delay *= 2
		}

		if deadline, ok := ctx.Deadline(); ok {
			if time.Now().Add(delay).After(deadline) {
				return fmt.Errorf("%w: next attempt would exceed deadline: %w", ErrRetryExhausted, lastErr)
			}
		}

		r.logger.Warn("provider attempt failed, backing off",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.cfg.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		if err := r.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w: %w", ErrRetryExhausted, err)
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, r.cfg.MaxAttempts, lastErr)
}

// backoff computes base * multiplier^(attempt-1) plus jitter, capped at
// MaxDelay.
func (r *Retrier) backoff(attempt int) time.Duration {
	delay := float64(r.cfg.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= r.cfg.Multiplier
	}
	if r.cfg.Jitter > 0 {
		delay += delay * r.cfg.Jitter * rand.Float64()
	}
	if d := time.Duration(delay); d < r.cfg.MaxDelay {
		return d
	}
	return r.cfg.MaxDelay
}

// sleepContext sleeps for d without stalling other requests, returning early
// when the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
