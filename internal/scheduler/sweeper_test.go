package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/order-processing-api/internal/service"
	"github.com/vaidashi/order-processing-api/pkg/logger"
)

type fakePromoter struct {
	calls   atomic.Int32
	block   chan struct{}
	started chan struct{}
	result  service.SweepResult
	err     error
}

func (p *fakePromoter) UpdateOrderStatusToProcessing(ctx context.Context) (service.SweepResult, error) {
	p.calls.Add(1)

	if p.started != nil {
		p.started <- struct{}{}
	}

	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return service.SweepResult{}, ctx.Err()
		}
	}

	return p.result, p.err
}

type fakeLocker struct {
	ok       bool
	err      error
	released atomic.Int32
}

func (l *fakeLocker) TryLock(context.Context) (func(context.Context) error, bool, error) {
	if l.err != nil || !l.ok {
		return nil, false, l.err
	}

	return func(context.Context) error {
		l.released.Add(1)
		return nil
	}, true, nil
}

func TestRunOnce(t *testing.T) {
	promoter := &fakePromoter{result: service.SweepResult{Candidates: 2, Promoted: 2}}
	sweeper := NewSweeper(promoter, nil, Config{Interval: time.Hour, Timeout: time.Second}, logger.NewNop())

	result, err := sweeper.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, result.Promoted)
	assert.EqualValues(t, 1, promoter.calls.Load())
	assert.False(t, sweeper.sweeping.Load())
}

func TestRunOnceSkipsWhileSweeping(t *testing.T) {
	promoter := &fakePromoter{
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	sweeper := NewSweeper(promoter, nil, Config{Interval: time.Hour}, logger.NewNop())

	done := make(chan error, 1)
	go func() {
		_, err := sweeper.RunOnce(context.Background())
		done <- err
	}()

	<-promoter.started
	assert.True(t, sweeper.sweeping.Load())

	_, err := sweeper.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrSweepInProgress)

	close(promoter.block)
	require.NoError(t, <-done)
	assert.EqualValues(t, 1, promoter.calls.Load())
}

func TestRunOnceHonoursTimeout(t *testing.T) {
	promoter := &fakePromoter{block: make(chan struct{})}
	sweeper := NewSweeper(promoter, nil, Config{Interval: time.Hour, Timeout: 20 * time.Millisecond}, logger.NewNop())

	_, err := sweeper.RunOnce(context.Background())

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, sweeper.sweeping.Load())
}

func TestRunOnceWithLock(t *testing.T) {
	t.Run("acquired", func(t *testing.T) {
		promoter := &fakePromoter{}
		locker := &fakeLocker{ok: true}
		sweeper := NewSweeper(promoter, locker, Config{Interval: time.Hour}, logger.NewNop())

		_, err := sweeper.RunOnce(context.Background())

		require.NoError(t, err)
		assert.EqualValues(t, 1, promoter.calls.Load())
		assert.EqualValues(t, 1, locker.released.Load())
	})

	t.Run("held elsewhere", func(t *testing.T) {
		promoter := &fakePromoter{}
		sweeper := NewSweeper(promoter, &fakeLocker{}, Config{Interval: time.Hour}, logger.NewNop())

		_, err := sweeper.RunOnce(context.Background())

		assert.ErrorIs(t, err, ErrLockHeld)
		assert.Zero(t, promoter.calls.Load())
	})

	t.Run("backend down", func(t *testing.T) {
		promoter := &fakePromoter{}
		sweeper := NewSweeper(promoter, &fakeLocker{err: errors.New("connection refused")}, Config{Interval: time.Hour}, logger.NewNop())

		_, err := sweeper.RunOnce(context.Background())

		assert.Error(t, err)
		assert.Zero(t, promoter.calls.Load())
	})
}

func TestSweeperStartStop(t *testing.T) {
	promoter := &fakePromoter{}
	sweeper := NewSweeper(promoter, nil, Config{Interval: 10 * time.Millisecond}, logger.NewNop())

	sweeper.Start()
	sweeper.Start()

	assert.Eventually(t, func() bool {
		return promoter.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	sweeper.Stop()
	calls := promoter.calls.Load()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, promoter.calls.Load())

	sweeper.Stop()
}

func TestSweeperStopCancelsInFlightSweep(t *testing.T) {
	promoter := &fakePromoter{block: make(chan struct{}), started: make(chan struct{}, 1)}
	sweeper := NewSweeper(promoter, nil, Config{Interval: 5 * time.Millisecond}, logger.NewNop())

	sweeper.Start()
	<-promoter.started

	stopped := make(chan struct{})
	go func() {
		sweeper.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return while a sweep was blocked")
	}
}

func TestRedisLocker(t *testing.T) {
	db, mock := redismock.NewClientMock()

	locker := NewRedisLocker(db, "orders:sweep:lock", time.Minute)
	locker.newToken = func() string { return "token-1" }

	mock.ExpectSetNX("orders:sweep:lock", "token-1", time.Minute).SetVal(true)
	mock.ExpectEvalSha(releaseScript.Hash(), []string{"orders:sweep:lock"}, "token-1").SetVal(int64(1))

	unlock, ok, err := locker.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, unlock(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLockerHeld(t *testing.T) {
	db, mock := redismock.NewClientMock()

	locker := NewRedisLocker(db, "orders:sweep:lock", time.Minute)
	locker.newToken = func() string { return "token-2" }

	mock.ExpectSetNX("orders:sweep:lock", "token-2", time.Minute).SetVal(false)

	unlock, ok, err := locker.TryLock(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, unlock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLockerError(t *testing.T) {
	db, mock := redismock.NewClientMock()

	locker := NewRedisLocker(db, "orders:sweep:lock", time.Minute)
	locker.newToken = func() string { return "token-3" }

	mock.ExpectSetNX("orders:sweep:lock", "token-3", time.Minute).SetErr(errors.New("connection refused"))

	_, ok, err := locker.TryLock(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}
