package apierr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/pipelined/internal/logging"
	"go.uber.org/zap"
)

// RetryConfig configures retry behavior for platform calls.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt. Default: 3
	MaxRetries int
	// InitialBackoff is the first wait. Default: 1s
	InitialBackoff time.Duration
	// MaxBackoff caps every wait, including server-advised ones. Default: 30s
	MaxBackoff time.Duration
	// BackoffMultiplier grows the wait between attempts. Default: 2
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	d := DefaultRetryConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
}

// Retry runs op until it succeeds, fails with a non-transient error, or
// MaxRetries is exhausted. Rate-limit errors wait for RetryAfter instead of
// the exponential backoff. A nil logger is allowed.
func Retry(ctx context.Context, cfg RetryConfig, logger *logging.Logger, op func(ctx context.Context) error) error {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = logging.Nop()
	}

	backoff := cfg.InitialBackoff
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info(ctx, "platform call recovered after retries",
					zap.Int("attempts", attempt+1),
					zap.Duration("total_time", time.Since(start)))
			}
			return nil
		}
		lastErr = err

		if KindOf(err) != Transient {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		wait := backoff
		var e *Error
		if errors.As(err, &e) && e.RetryAfter > 0 {
			wait = e.RetryAfter
		}
		if wait > cfg.MaxBackoff {
			wait = cfg.MaxBackoff
		}
		logger.Info(ctx, "retrying platform call after transient error",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", cfg.MaxRetries+1),
			zap.Duration("backoff", wait),
			zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return fmt.Errorf("platform call failed after %d retries: %w", cfg.MaxRetries, lastErr)
}
