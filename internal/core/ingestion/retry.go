package ingestion

import (
	"context"
	"log"
	"time"
)

// RetryWithBackoff retries an operation with exponential backoff. shouldRetry
// decides per error whether another attempt is worthwhile; a permanent error
// fails immediately. Sleeps are context-aware, and the error from the last
// attempt is returned when all attempts fail.
func RetryWithBackoff(ctx context.Context, operation func() error, maxAttempts int, baseDelay time.Duration, shouldRetry func(error) bool) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		log.Printf("ingestion: attempt %d/%d failed, retrying: %v", attempt, maxAttempts, lastErr)

		// baseDelay * 2^(attempt-1)
		delay := baseDelay << (attempt - 1)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
