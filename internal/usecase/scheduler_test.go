package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/V4T54L/fuel-importer/internal/adapter/metrics"
	"github.com/V4T54L/fuel-importer/internal/domain"
)

// blockingRunner holds every run until release is closed.
type blockingRunner struct {
	mu         sync.Mutex
	running    int
	maxRunning int
	calls      int
	started    chan struct{}
	release    chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (r *blockingRunner) Run(ctx context.Context) (domain.RunReport, error) {
	r.mu.Lock()
	r.running++
	r.calls++
	if r.running > r.maxRunning {
		r.maxRunning = r.running
	}
	r.mu.Unlock()

	select {
	case r.started <- struct{}{}:
	default:
	}
	<-r.release

	r.mu.Lock()
	r.running--
	r.mu.Unlock()
	return domain.RunReport{RunID: "run", Status: domain.RunSucceeded}, nil
}

type funcRunner func(ctx context.Context) (domain.RunReport, error)

func (f funcRunner) Run(ctx context.Context) (domain.RunReport, error) { return f(ctx) }

func TestScheduler_NoConcurrentRuns(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.NewImporterMetrics(reg)
	runner := newBlockingRunner()
	s := NewScheduler(runner, 5*time.Millisecond, logger, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	select {
	case <-runner.started:
	case <-time.After(time.Second):
		t.Fatal("first run did not start")
	}

	if !s.Busy() {
		t.Error("expected scheduler to report busy")
	}
	if err := s.Trigger(); !errors.Is(err, domain.ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress, got %v", err)
	}
	if _, err := s.RunOnce(ctx); !errors.Is(err, domain.ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress from RunOnce, got %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	cancel()
	close(runner.release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.maxRunning != 1 {
		t.Errorf("expected at most one run in flight, got %d", runner.maxRunning)
	}
	if got := counterValue(t, reg, "fuel_importer_scheduler_ticks_skipped_total", ""); got == 0 {
		t.Error("expected ticks to be skipped while a run was in flight")
	}
	if report, ok := s.LastReport(); !ok || report.Status != domain.RunSucceeded {
		t.Errorf("expected last report to be recorded, got %+v", report)
	}
}

func TestScheduler_Trigger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("Before Start", func(t *testing.T) {
		s := NewScheduler(funcRunner(func(context.Context) (domain.RunReport, error) {
			return domain.RunReport{}, nil
		}), time.Hour, logger, nil)
		if err := s.Trigger(); err == nil {
			t.Error("expected an error before Start")
		}
	})

	t.Run("Runs Outside Schedule", func(t *testing.T) {
		var mu sync.Mutex
		calls := 0
		ran := make(chan struct{}, 4)
		s := NewScheduler(funcRunner(func(context.Context) (domain.RunReport, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			ran <- struct{}{}
			return domain.RunReport{Status: domain.RunEmpty}, nil
		}), time.Hour, logger, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			s.Start(ctx)
			close(done)
		}()
		<-ran // initial run

		deadline := time.After(time.Second)
		for {
			if err := s.Trigger(); err == nil {
				break
			}
			select {
			case <-deadline:
				t.Fatal("trigger never accepted")
			case <-time.After(time.Millisecond):
			}
		}
		<-ran

		cancel()
		<-done
		mu.Lock()
		defer mu.Unlock()
		if calls != 2 {
			t.Errorf("expected 2 runs, got %d", calls)
		}
	})
}

func TestScheduler_RunOnceReportsFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runErr := domain.Abort(domain.StageFetch, errors.New("boom"))
	s := NewScheduler(funcRunner(func(context.Context) (domain.RunReport, error) {
		return domain.RunReport{Status: domain.RunFailed, Stage: domain.StageFetch}, runErr
	}), time.Hour, logger, nil)

	report, err := s.RunOnce(context.Background())
	if !errors.Is(err, runErr) {
		t.Errorf("expected run error, got %v", err)
	}
	if report.Stage != domain.StageFetch {
		t.Errorf("unexpected report %+v", report)
	}
	if last, ok := s.LastReport(); !ok || last.Status != domain.RunFailed {
		t.Errorf("expected failed last report, got %+v", last)
	}
	if s.Busy() {
		t.Error("expected scheduler to be idle after RunOnce")
	}
}
