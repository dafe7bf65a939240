package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vaidashi/order-processing-api/internal/service"
	"github.com/vaidashi/order-processing-api/pkg/logger"
)

var (
	// ErrSweepInProgress is returned when a sweep is requested while one is still running
	ErrSweepInProgress = errors.New("sweep already in progress")
	// ErrLockHeld is returned when another instance holds the sweep lock
	ErrLockHeld = errors.New("sweep lock held by another instance")
)

// Promoter moves every pending order forward
type Promoter interface {
	UpdateOrderStatusToProcessing(ctx context.Context) (service.SweepResult, error)
}

// Locker elects a single sweeping instance across replicas
type Locker interface {
	// TryLock returns ok=false without error when someone else holds the lock
	TryLock(ctx context.Context) (unlock func(context.Context) error, ok bool, err error)
}

// Config holds the configuration for the Sweeper
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Sweeper runs the pending to processing sweep on a fixed interval
type Sweeper struct {
	promoter Promoter
	locker   Locker
	interval time.Duration
	timeout  time.Duration
	logger   logger.Logger

	sweeping atomic.Bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewSweeper creates a new Sweeper. locker may be nil for single instance deployments.
func NewSweeper(promoter Promoter, locker Locker, config Config, logger logger.Logger) *Sweeper {
	return &Sweeper{
		promoter: promoter,
		locker:   locker,
		interval: config.Interval,
		timeout:  config.Timeout,
		logger:   logger,
	}
}

// Start starts the sweep loop. The first sweep runs one interval after Start.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		s.loop()
	}()

	s.logger.Info("Order sweeper started",
		"interval", s.interval,
		"timeout", s.timeout,
		"distributedLock", s.locker != nil)
}

// Stop cancels any in-flight sweep and waits for the loop to exit
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	s.wg.Wait()
	s.running = false

	s.logger.Info("Order sweeper stopped")
}

func (s *Sweeper) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Sweeper) tick() {
	_, err := s.RunOnce(s.ctx)

	switch {
	case err == nil:
	case errors.Is(err, ErrSweepInProgress):
		s.logger.Warn("Previous sweep still running, skipping tick")
	case errors.Is(err, ErrLockHeld):
		s.logger.Debug("Sweep lock held elsewhere, skipping tick")
	default:
		s.logger.Error("Scheduled sweep failed", "error", err)
	}
}

// RunOnce executes a single sweep unless one is already running.
// It backs both the ticker and the manual admin trigger.
func (s *Sweeper) RunOnce(ctx context.Context) (service.SweepResult, error) {
	if !s.sweeping.CompareAndSwap(false, true) {
		return service.SweepResult{}, ErrSweepInProgress
	}
	defer s.sweeping.Store(false)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx)

		if err != nil {
			return service.SweepResult{}, err
		}

		if !ok {
			return service.SweepResult{}, ErrLockHeld
		}

		defer func() {
			// The sweep context may already be done, release on a fresh one
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := unlock(releaseCtx); err != nil {
				s.logger.Error("Failed to release sweep lock", "error", err)
			}
		}()
	}

	return s.promoter.UpdateOrderStatusToProcessing(ctx)
}
