package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls retries of remote store calls: exponential backoff
// with jitter, stopped early by non-transient errors and cancellation.
type RetryConfig struct {
	MaxAttempts    int           // total attempts including the first; 1 disables retries
	InitialBackoff time.Duration // delay before the first retry
	MaxBackoff     time.Duration // cap on any single delay
	Multiplier     float64       // growth of the delay per attempt
	JitterFraction float64       // ± share of the delay added at random

	// ShouldRetry overrides IsTransient when set.
	ShouldRetry func(err error) bool

	// OnRetry runs before each retry sleep with the attempt number.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the retry configuration used for remote blob
// operations.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// Do calls fn until it succeeds, fails with a non-transient error, the
// attempts run out or ctx is done. The last error is returned.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for functions returning a value.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)
	retryable := cfg.ShouldRetry
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	for attempt := 0; ; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		last := attempt >= cfg.MaxAttempts-1
		if last || ctx.Err() != nil || !retryable(err) {
			return zero, err
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}
		if !sleep(ctx, computeBackoff(attempt, cfg)) {
			return zero, err
		}
	}
}

// sleep waits for d and reports false when ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// applyDefaults fills unset fields from DefaultRetryConfig.
func applyDefaults(cfg RetryConfig) RetryConfig {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	cfg.JitterFraction = max(cfg.JitterFraction, 0)
	return cfg
}

// computeBackoff returns the delay after the given zero-based attempt.
func computeBackoff(attempt int, cfg RetryConfig) time.Duration {
	base := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	base = min(base, float64(cfg.MaxBackoff))
	if cfg.JitterFraction > 0 {
		base += (rand.Float64()*2 - 1) * base * cfg.JitterFraction
	}
	return time.Duration(max(base, 0))
}

// RetryLogger returns an OnRetry callback that logs each retry of one store
// operation.
func RetryLogger(log *zap.Logger, backend, operation string) func(int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("backend", backend), zap.String("operation", operation))
	return func(attempt int, err error) {
		log.Warn("retrying blob operation", zap.Int("attempt", attempt), zap.Error(err))
	}
}
