package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
)

// IsQuotaExhausted reports whether the error means the key's daily quota is
// spent. Quota errors are terminal for the key until the next daily reset.
func IsQuotaExhausted(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "QUOTA")
}

// IsRateLimited reports whether the error is a transient rate limit that a
// backoff wait can clear.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "RATE_LIMIT_EXCEEDED") || strings.Contains(msg, "429")
}

// IsAuthFailure reports whether the error means the key itself is rejected
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden) {
		return true
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "UNAUTHENTICATED") ||
		strings.Contains(msg, "PERMISSION_DENIED") ||
		strings.Contains(msg, "API KEY NOT VALID")
}

// ExecuteWithRetry runs op up to maxRetries times. Rate limit errors wait out
// an exponential backoff before the next attempt. Every other error is handed
// to failover, which may rotate to a different API key; the loop continues
// through maxRetries whether or not failover found one. The last error is
// returned when all attempts fail.
func ExecuteWithRetry[T any](ctx context.Context, op func(context.Context) (T, error), maxRetries int, baseDelay time.Duration, failover func(error) bool) (T, error) {
	var zero T
	var lastErr error

	delay := baseDelay
	for attempt := 1; attempt <= maxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == maxRetries {
			break
		}

		if IsRateLimited(err) && !IsQuotaExhausted(err) {
			log.Printf("Rate limited (attempt %d/%d), waiting %v", attempt, maxRetries, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
			delay *= 2
			continue
		}

		if failover != nil && !failover(err) {
			log.Printf("No failover option after attempt %d/%d: %v", attempt, maxRetries, err)
			continue
		}
		log.Printf("Attempt %d/%d failed: %v", attempt, maxRetries, err)
	}

	return zero, fmt.Errorf("all %d attempts failed: %w", maxRetries, lastErr)
}
