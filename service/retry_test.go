package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestExecuteWithRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := ExecuteWithRetry(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	}, 3, time.Millisecond, nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestExecuteWithRetryFailsOverThenSucceeds(t *testing.T) {
	calls := 0
	failovers := 0
	result, err := ExecuteWithRetry(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("UNAVAILABLE")
		}
		return "ok", nil
	}, 3, time.Millisecond, func(err error) bool {
		failovers++
		return true
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, failovers)
}

func TestExecuteWithRetryContinuesWhenFailoverDeclines(t *testing.T) {
	calls := 0
	cause := errors.New("same key every time")
	_, err := ExecuteWithRetry(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "", cause
	}, 5, time.Millisecond, func(err error) bool {
		return false
	})

	// A declined failover still burns through the bounded attempts
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 5, calls)
}

func TestExecuteWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := ExecuteWithRetry(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("still broken")
	}, 3, time.Millisecond, func(err error) bool { return true })

	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 3 attempts failed")
	assert.Equal(t, 3, calls)
}

func TestExecuteWithRetryBacksOffOnRateLimit(t *testing.T) {
	calls := 0
	start := time.Now()
	result, err := ExecuteWithRetry(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &googleapi.Error{Code: 429, Message: "rate limited"}
		}
		return "ok", nil
	}, 3, 20*time.Millisecond, func(err error) bool {
		t.Fatal("rate limit must back off, not fail over")
		return false
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestExecuteWithRetryHonorsContextDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ExecuteWithRetry(ctx, func(ctx context.Context) (string, error) {
		return "", &googleapi.Error{Code: 429}
	}, 3, time.Hour, nil)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsRateLimited(&googleapi.Error{Code: 429}))
	assert.True(t, IsRateLimited(errors.New("RATE_LIMIT_EXCEEDED: slow down")))
	assert.False(t, IsRateLimited(errors.New("boom")))
	assert.False(t, IsRateLimited(nil))

	assert.True(t, IsQuotaExhausted(errors.New("RESOURCE_EXHAUSTED: quota exceeded")))
	assert.True(t, IsQuotaExhausted(errors.New("daily quota exceeded for this key")))
	assert.False(t, IsQuotaExhausted(errors.New("boom")))

	assert.True(t, IsAuthFailure(&googleapi.Error{Code: 401}))
	assert.True(t, IsAuthFailure(errors.New("API key not valid. Please pass a valid API key.")))
	assert.True(t, IsAuthFailure(errors.New("rpc error: code = Unauthenticated")))
	assert.False(t, IsAuthFailure(errors.New("boom")))
}
