package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"socialqueue/internal/constants"
	"socialqueue/internal/retry"
)

// withRetry runs a write that may hit SQLITE_BUSY while the scanner and the
// API write concurrently. Only lock and transient I/O errors are retried.
func withRetry(ctx context.Context, operation func() error) error {
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: constants.DefaultRetryBackoffMs * time.Millisecond,
		MaxDelay:     constants.DefaultMaxBackoffMs * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})
	return backoff.RetryWithPredicate(ctx, operation, isRetryableDBError)
}

// isRetryableDBError determines if a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := err.Error()
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database table is locked") ||
		strings.Contains(errStr, "disk I/O error")
}
