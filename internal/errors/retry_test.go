package errors

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetryWithResultRetriesTransient(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), fastConfig(), nil, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransient(errors.New("flaky"))
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastConfig(), nil, func(context.Context) error {
		calls++
		return NewPermanent(errors.New("bad request"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryExhausts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastConfig(), nil, func(context.Context) error {
		calls++
		return FromHTTPStatus(503, nil)
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Contains(t, err.Error(), "max retries exceeded")
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, fastConfig(), nil, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestClassification(t *testing.T) {
	assert.True(t, IsTransient(FromHTTPStatus(429, nil)))
	assert.False(t, IsTransient(FromHTTPStatus(400, nil)))
	assert.False(t, IsTransient(FromHTTPStatus(501, nil)))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(context.Canceled))
	assert.Equal(t, ErrorTypePermanent, GetErrorType(errors.New("unknown")))
}

func TestDescribeStripsNoiseAndCaps(t *testing.T) {
	err := NewTransient(errors.New("line one\n\tline   two"))
	assert.Equal(t, "line one line two", Describe(err, 0))

	long := Describe(errors.New(strings.Repeat("x", 50)), 10)
	assert.Equal(t, 10, len([]rune(long)))
}

func TestBackoffCapped(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, MaxDelay: 2 * time.Second}
	assert.Equal(t, 2*time.Second, calculateBackoff(5, cfg))
}
