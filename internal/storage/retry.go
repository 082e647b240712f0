package storage

// retry.go implements the retry-under-contention discipline (spec §4.2):
// live-buffer reads and writes get up to 3 attempts with linear backoff
// between 100 and 300 ms. Structural errors (anything not recognized as
// a transient contention condition) are surfaced immediately; only
// "file in use by another process"-shaped errors are retried.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devraj-patel/tradecore/internal/telemetry"
)

const (
	maxRetries     = 3
	retryBaseDelay = 100 * time.Millisecond
	retryMaxDelay  = 300 * time.Millisecond
)

// Transient reports whether err looks like a contention condition worth
// retrying rather than a structural failure (bad schema, disk full,
// corrupt file) that should propagate immediately.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrLockTimeout) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "in use")
}

// WithRetry runs fn up to maxRetries times, retrying only on Transient
// errors with linear backoff between retryBaseDelay and retryMaxDelay.
// The final error (whether from exhaustion or a non-transient failure) is
// wrapped with attempt context before being returned.
func WithRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !Transient(lastErr) {
			return fmt.Errorf("storage: %s: %w", op, lastErr)
		}
		if attempt == maxRetries {
			break
		}

		telemetry.IncStorageRetry(op)
		delay := retryBaseDelay * time.Duration(attempt)
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("storage: %s: exhausted %d retries: %w", op, maxRetries, lastErr)
}
