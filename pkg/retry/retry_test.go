package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errTransient = errors.New("transient")

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0

	err := Retry(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, &RetryConfig{MaxAttempts: 5, BackoffStrategy: &ConstantBackoff{Interval: time.Millisecond}})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUp(t *testing.T) {
	calls := 0
	cfg := &RetryConfig{MaxAttempts: 3, BackoffStrategy: &ConstantBackoff{Interval: time.Millisecond}}

	err := Retry(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	}, cfg)

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0

	err := Retry(context.Background(), func(context.Context) error {
		calls++
		return permanent
	}, &RetryConfig{
		MaxAttempts:     5,
		BackoffStrategy: &ConstantBackoff{Interval: time.Millisecond},
		RetryableErrors: []error{errTransient},
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := Retry(ctx, func(context.Context) error {
		return errTransient
	}, &RetryConfig{MaxAttempts: 10, BackoffStrategy: &ConstantBackoff{Interval: time.Second}})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExponentialBackoff(t *testing.T) {
	b := &ExponentialBackoff{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2,
	}

	assert.Equal(t, 100*time.Millisecond, b.NextBackoff(1))
	assert.Equal(t, 200*time.Millisecond, b.NextBackoff(2))
	assert.Equal(t, 400*time.Millisecond, b.NextBackoff(3))
	assert.Equal(t, time.Second, b.NextBackoff(10))

	jittered := NewDefaultExponentialBackoff()
	for attempt := 1; attempt < 20; attempt++ {
		d := jittered.NextBackoff(attempt)
		assert.GreaterOrEqual(t, d, jittered.InitialInterval)
		assert.LessOrEqual(t, d, jittered.MaxInterval)
	}
}
