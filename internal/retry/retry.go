// Package retry retries infrastructure calls (Redis, Postgres) on transient
// failures with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/rekognify/internal/logging"
)

// Backoff configures Do.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// Default is used for cache and database calls.
func Default() Backoff {
	return Backoff{Attempts: 3, Initial: 50 * time.Millisecond, Max: time.Second}
}

// Do runs fn until it succeeds, fails with a non-transient error or the
// attempts are spent. Failures are wrapped in a logging.OperationError.
func Do(ctx context.Context, b Backoff, logger *zap.Logger, operation, uploadID string, fn func() error) error {
	if b.Attempts <= 1 {
		return logging.NewOperationError(operation, uploadID, fn())
	}

	backoff := b.Initial
	opLogger := logging.WithOperation(logger, operation, uploadID)
	var err error
	for attempt := 0; attempt < b.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, uploadID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= b.Max {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !IsTransient(err) || attempt == b.Attempts-1 {
			opLogger.Error("operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, uploadID, err)
		}

		opLogger.Warn("transient error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, uploadID, err)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
