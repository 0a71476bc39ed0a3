// Package retry provides exponential backoff for outbound messaging calls:
// in-process retries for startup probes and the rescheduling delay for
// failed expiry deletions.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aatumaykin/chronobot/internal/channels"
	"github.com/aatumaykin/chronobot/internal/logger"
)

const (
	defaultMaxAttempts  = 5
	defaultInitialDelay = 30 * time.Second
	defaultMaxDelay     = 30 * time.Minute
)

// Config represents retry configuration.
type Config struct {
	MaxAttempts    int           // Maximum number of attempts (default: 5)
	InitialBackoff time.Duration // Initial backoff duration (default: 30s)
	MaxBackoff     time.Duration // Maximum backoff duration (default: 30m)
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialDelay
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxDelay
	}
	return c
}

// Exhausted reports whether attempts made so far use up the budget.
func (c Config) Exhausted(attempts int) bool {
	return attempts >= c.WithDefaults().MaxAttempts
}

// NextDue returns when the next attempt is allowed after the given number
// of failed attempts (1 for the first failure). A rate-limit hint from the
// server wins when it is longer.
func (c Config) NextDue(now time.Time, attempts int, err error) time.Time {
	c = c.WithDefaults()
	attempt := attempts - 1
	if attempt < 0 {
		attempt = 0
	}
	delay := Backoff(attempt, c.InitialBackoff, c.MaxBackoff)
	var de *channels.DeliveryError
	if errors.As(err, &de) && de.RetryAfter > delay {
		delay = de.RetryAfter
	}
	return now.Add(delay).UTC()
}

// Do executes fn with retry logic and returns its result or the last error.
// Context cancellation is checked between attempts.
func Do[T any](ctx context.Context, log *logger.Logger, cfg Config, fn func(context.Context) (T, error)) (T, error) {
	cfg = cfg.WithDefaults()
	var (
		zero    T
		lastErr error
	)

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		backoff := Backoff(attempt, cfg.InitialBackoff, cfg.MaxBackoff)
		log.WarnCtx(ctx, "retryable error",
			logger.Field{Key: "attempt", Value: attempt + 1},
			logger.Field{Key: "max_attempts", Value: cfg.MaxAttempts},
			logger.Field{Key: "backoff", Value: backoff.String()},
			logger.Field{Key: "error", Value: err.Error()})

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		}
	}

	return zero, fmt.Errorf("all %d attempts failed: %w", cfg.MaxAttempts, lastErr)
}

// IsRetryable checks if an error is worth another attempt. Delivery errors
// are judged by kind; anything else by its message.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var de *channels.DeliveryError
	if errors.As(err, &de) {
		return de.IsRetryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errLower := strings.ToLower(err.Error())

	nonRetryablePatterns := []string{
		"401", // Unauthorized
		"403", // Forbidden
		"400", // Bad Request
		"404", // Not Found
	}
	for _, pattern := range nonRetryablePatterns {
		if strings.Contains(errLower, pattern) {
			return false
		}
	}

	retryablePatterns := []string{
		"timeout",
		"deadline exceeded",
		"connection refused",
		"connection reset",
		"temporary",
		"eof",
		"429",
		"too many requests",
		"rate limit",
		"500",
		"502",
		"503",
		"504",
		"network",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errLower, pattern) {
			return true
		}
	}

	return false
}

// Backoff calculates the backoff duration for a zero-based attempt:
// 2^attempt * initial, capped at max.
func Backoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		return max
	}
	backoff := time.Duration(1<<uint(attempt)) * initial
	if backoff > max || backoff <= 0 {
		return max
	}
	return backoff
}
