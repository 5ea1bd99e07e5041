package store

import (
	"context"
	"strings"
	"time"
)

// Backoff parameters for transient document-store failures. Permission,
// not-found and invalid-argument errors fail immediately and are never
// retried; only concurrency-class errors qualify.
const (
	retryAttempts = 3
	retryBase     = 100 * time.Millisecond
	retryCap      = 5 * time.Second
)

// isTransient reports whether err is a concurrency-class SQLite error worth
// retrying (busy, locked, interrupted).
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "interrupted")
}

// withRetry runs fn up to retryAttempts times with exponential backoff,
// but only for transient errors.
func withRetry(ctx context.Context, fn func() error) error {
	interval := retryBase
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		interval = interval * 2
		if interval > retryCap {
			interval = retryCap
		}
	}
	return err
}
