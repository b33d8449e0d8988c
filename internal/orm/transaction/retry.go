package transaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	// DefaultMaxRetries is the default number of attempts for retryable failures
	DefaultMaxRetries = 3
	// DefaultBaseBackoff is the default base backoff duration
	DefaultBaseBackoff = 100 * time.Millisecond
)

// SQLSTATE codes of failures a retried transaction can succeed past
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// RetryConfig configures retry behavior for transactions
type RetryConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:  DefaultMaxRetries,
		BaseBackoff: DefaultBaseBackoff,
	}
}

// WithRetry executes a transaction with automatic retry on retryable failures
func (m *Manager) WithRetry(ctx context.Context, fn func(ctx context.Context, tx *Transaction) error) error {
	return m.WithRetryConfig(ctx, DefaultRetryConfig(), fn)
}

// WithRetryConfig executes a transaction with custom retry configuration.
// Backoff doubles after each failed attempt.
func (m *Manager) WithRetryConfig(ctx context.Context, config *RetryConfig, fn func(ctx context.Context, tx *Transaction) error) error {
	var lastErr error

	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("transaction cancelled before retry %d: %w", attempt, ctx.Err())
		}

		err := m.WithTransaction(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryableError(err) {
			return err
		}

		lastErr = err
		backoff := config.BaseBackoff * time.Duration(1<<uint(attempt))
		m.logger.Debug("retrying transaction",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("transaction cancelled during retry: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%w: transaction failed after %d retries: %v", ErrDeadlock, config.MaxRetries, lastErr)
}

// sqlState extracts the SQLSTATE code from a driver error
func sqlState(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), true
	}
	return "", false
}

// isDeadlockError reports whether err is a deadlock or lock contention failure
func isDeadlockError(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqlState(err); ok {
		return code == sqlStateDeadlockDetected
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, sqlStateDeadlockDetected) {
		return true
	}
	for _, msg := range []string{"deadlock detected", "deadlock found", "lock wait timeout exceeded"} {
		if strings.Contains(errStr, msg) {
			return true
		}
	}
	return false
}

// isSerializationError reports whether err is a serialization failure
func isSerializationError(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqlState(err); ok {
		return code == sqlStateSerializationFailure
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, sqlStateSerializationFailure) ||
		strings.Contains(errStr, "could not serialize access")
}

// IsRetryableError reports whether err is a deadlock or serialization failure
func IsRetryableError(err error) bool {
	return isDeadlockError(err) || isSerializationError(err)
}
