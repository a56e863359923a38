package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/V4T54L/fuel-importer/internal/adapter/metrics"
	"github.com/V4T54L/fuel-importer/internal/domain"
)

// DefaultRunInterval is the delay between two scheduled runs.
const DefaultRunInterval = time.Minute

var errSchedulerNotStarted = errors.New("scheduler not started")

// ImportRunner performs one import run.
type ImportRunner interface {
	Run(ctx context.Context) (domain.RunReport, error)
}

// Scheduler triggers import runs on a fixed interval and guarantees that at most one
// run is in flight. A tick that arrives while a run is executing is skipped.
type Scheduler struct {
	runner   ImportRunner
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.ImporterMetrics

	inFlight atomic.Bool
	wg       sync.WaitGroup

	mu      sync.RWMutex
	baseCtx context.Context
	last    domain.RunReport
	hasLast bool
}

// NewScheduler creates a Scheduler. A non-positive interval selects DefaultRunInterval.
func NewScheduler(runner ImportRunner, interval time.Duration, logger *slog.Logger, m *metrics.ImporterMetrics) *Scheduler {
	if interval <= 0 {
		interval = DefaultRunInterval
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger.With("component", "scheduler"),
		metrics:  m,
	}
}

// Start runs immediately and then on every tick until ctx is cancelled. It returns after
// the in-flight run, if any, has stopped.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.interval)
	s.tick(ctx)

Loop:
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			s.logger.Info("context cancelled, waiting for in-flight run")
			break Loop
		}
	}

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Trigger starts a run outside the regular schedule. It returns domain.ErrRunInProgress
// when a run is already in flight.
func (s *Scheduler) Trigger() error {
	s.mu.RLock()
	ctx := s.baseCtx
	s.mu.RUnlock()
	if ctx == nil {
		return errSchedulerNotStarted
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !s.tryRun(ctx) {
		return domain.ErrRunInProgress
	}
	return nil
}

// RunOnce executes a single run synchronously, respecting the in-flight guard.
func (s *Scheduler) RunOnce(ctx context.Context) (domain.RunReport, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return domain.RunReport{}, domain.ErrRunInProgress
	}
	defer s.inFlight.Store(false)
	return s.execute(ctx)
}

// LastReport returns the report of the most recent finished run.
func (s *Scheduler) LastReport() (domain.RunReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.hasLast
}

// Busy reports whether a run is in flight.
func (s *Scheduler) Busy() bool { return s.inFlight.Load() }

func (s *Scheduler) tick(ctx context.Context) {
	if !s.tryRun(ctx) {
		s.logger.Warn("previous run still in flight, skipping tick")
		if s.metrics != nil {
			s.metrics.TicksSkipped.Inc()
		}
	}
}

func (s *Scheduler) tryRun(ctx context.Context) bool {
	if !s.inFlight.CompareAndSwap(false, true) {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		s.execute(ctx)
	}()
	return true
}

func (s *Scheduler) execute(ctx context.Context) (domain.RunReport, error) {
	report, err := s.runner.Run(ctx)

	s.mu.Lock()
	s.last = report
	s.hasLast = true
	s.mu.Unlock()

	// The runner already logged the failure; the process keeps running.
	return report, err
}
