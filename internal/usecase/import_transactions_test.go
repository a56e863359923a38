package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/V4T54L/fuel-importer/internal/adapter/metrics"
	"github.com/V4T54L/fuel-importer/internal/domain"
	"github.com/V4T54L/fuel-importer/internal/domain/mocks"
)

var runTime = time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)

// counterValue sums the counters of family name whose label values include labelValue
// (any label value when labelValue is empty).
func counterValue(t *testing.T, reg *prometheus.Registry, name, labelValue string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			match := labelValue == ""
			for _, lp := range metric.GetLabel() {
				if lp.GetValue() == labelValue {
					match = true
				}
			}
			if match {
				total += metric.GetCounter().GetValue()
			}
		}
	}
	return total
}

func newTestImport(source domain.TransactionSource, store domain.ProcessedIDStore, sink domain.EventSink, opts ...ImportOption) *ImportTransactionsUseCase {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]ImportOption{WithClock(mocks.FixedClock{T: runTime})}, opts...)
	return NewImportTransactionsUseCase(source, store, sink, newTestPipeline(), logger, opts...)
}

func TestImportTransactions_Idempotent(t *testing.T) {
	source := &mocks.MockTransactionSource{Payload: []byte(splitRefuelPayload)}
	store := mocks.NewMockProcessedIDStore()
	sink := &mocks.MockAtomicSink{Store: store}
	uc := newTestImport(source, store, sink)

	first, err := uc.Run(context.Background())
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if first.Status != domain.RunSucceeded || first.Events != 3 {
		t.Fatalf("unexpected first report %+v", first)
	}

	second, err := uc.Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if second.Status != domain.RunEmpty || second.Fresh != 0 {
		t.Errorf("expected second run to find nothing new, got %+v", second)
	}
	if sink.PersistCalls != 1 {
		t.Errorf("expected a single persist, got %d", sink.PersistCalls)
	}
	if len(sink.Appended) != 3 {
		t.Errorf("expected 3 persisted events, got %d", len(sink.Appended))
	}

	seen := make(map[uuid.UUID]bool)
	for _, ev := range sink.Appended {
		if ev.GeneratedID == uuid.Nil || seen[ev.GeneratedID] {
			t.Errorf("expected unique generated id, got %s", ev.GeneratedID)
		}
		seen[ev.GeneratedID] = true
	}
}

func TestImportTransactions_FetchRange(t *testing.T) {
	source := &mocks.MockTransactionSource{Payload: []byte("[]")}
	uc := newTestImport(source, mocks.NewMockProcessedIDStore(), &mocks.MockEventSink{}, WithLookback(2*time.Hour))

	report, err := uc.Run(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.Status != domain.RunEmpty {
		t.Errorf("expected empty run, got %s", report.Status)
	}
	if !source.To.Equal(runTime) || !source.From.Equal(runTime.Add(-2*time.Hour)) {
		t.Errorf("unexpected fetch range %v .. %v", source.From, source.To)
	}
}

func TestImportTransactions_FetchFailure(t *testing.T) {
	source := &mocks.MockTransactionSource{FetchErr: errors.New("upstream returned 502")}
	sink := &mocks.MockEventSink{}
	recorder := &mocks.MockRunRecorder{}
	journal := &mocks.MockRunJournal{}
	reg := prometheus.NewRegistry()
	m := metrics.NewImporterMetrics(reg)
	uc := newTestImport(source, mocks.NewMockProcessedIDStore(), sink,
		WithRecorder(recorder), WithJournal(journal), WithMetrics(m))

	report, err := uc.Run(context.Background())

	var pe *domain.PipelineError
	if !errors.As(err, &pe) || pe.Stage != domain.StageFetch {
		t.Fatalf("expected fetch stage PipelineError, got %v", err)
	}
	if report.Status != domain.RunFailed || report.Stage != domain.StageFetch || report.Reason == "" {
		t.Errorf("unexpected report %+v", report)
	}
	if sink.Calls != 0 {
		t.Errorf("expected nothing persisted, got %d calls", sink.Calls)
	}
	if len(recorder.Failures) != 1 {
		t.Errorf("expected failure to be recorded, got %d", len(recorder.Failures))
	}
	if len(journal.Reports) != 1 || journal.Reports[0].RunID != report.RunID {
		t.Errorf("expected report in journal, got %+v", journal.Reports)
	}
	if got := counterValue(t, reg, "fuel_importer_run_stage_failures_total", "fetch"); got != 1 {
		t.Errorf("expected 1 fetch stage failure, got %v", got)
	}
}

func TestImportTransactions_NonAtomicSink(t *testing.T) {
	t.Run("Records IDs After Append", func(t *testing.T) {
		store := mocks.NewMockProcessedIDStore()
		sink := &mocks.MockEventSink{}
		uc := newTestImport(&mocks.MockTransactionSource{Payload: []byte(splitRefuelPayload)}, store, sink)

		if _, err := uc.Run(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(store.Recorded) != 4 {
			t.Errorf("expected 4 recorded ids, got %v", store.Recorded)
		}
	})

	t.Run("Append Failure Leaves IDs Unrecorded", func(t *testing.T) {
		store := mocks.NewMockProcessedIDStore()
		sink := &mocks.MockEventSink{AppendErr: errors.New("disk full")}
		uc := newTestImport(&mocks.MockTransactionSource{Payload: []byte(splitRefuelPayload)}, store, sink)

		report, err := uc.Run(context.Background())
		if stage, _ := domain.StageOf(err); stage != domain.StagePersist {
			t.Fatalf("expected persist stage failure, got %v", err)
		}
		if report.Events != 0 {
			t.Errorf("expected no events reported, got %d", report.Events)
		}
		if len(store.Recorded) != 0 {
			t.Errorf("expected no recorded ids, got %v", store.Recorded)
		}
	})
}

func TestImportTransactions_RunLock(t *testing.T) {
	t.Run("Skips When Held", func(t *testing.T) {
		source := &mocks.MockTransactionSource{Payload: []byte(splitRefuelPayload)}
		journal := &mocks.MockRunJournal{}
		lock := &mocks.MockRunLock{Held: true}
		uc := newTestImport(source, mocks.NewMockProcessedIDStore(), &mocks.MockEventSink{},
			WithRunLock(lock, time.Minute), WithJournal(journal))

		report, err := uc.Run(context.Background())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if report.Status != domain.RunSkipped {
			t.Errorf("expected skipped run, got %s", report.Status)
		}
		if source.Calls != 0 {
			t.Errorf("expected no fetch, got %d", source.Calls)
		}
		if len(journal.Reports) != 1 {
			t.Errorf("expected skipped run in journal, got %d", len(journal.Reports))
		}
	})

	t.Run("Releases After Run", func(t *testing.T) {
		lock := &mocks.MockRunLock{}
		uc := newTestImport(&mocks.MockTransactionSource{Payload: []byte("[]")}, mocks.NewMockProcessedIDStore(), &mocks.MockEventSink{},
			WithRunLock(lock, time.Minute))

		if _, err := uc.Run(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if lock.Held || lock.Released != 1 {
			t.Errorf("expected lock to be released once, held=%v released=%d", lock.Held, lock.Released)
		}
	})

	t.Run("Lock Error", func(t *testing.T) {
		lock := &mocks.MockRunLock{Err: errors.New("redis down")}
		uc := newTestImport(&mocks.MockTransactionSource{}, mocks.NewMockProcessedIDStore(), &mocks.MockEventSink{},
			WithRunLock(lock, time.Minute))

		report, err := uc.Run(context.Background())
		if stage, _ := domain.StageOf(err); stage != domain.StageLock {
			t.Errorf("expected lock stage failure, got %v", err)
		}
		if report.Status != domain.RunFailed {
			t.Errorf("expected failed run, got %s", report.Status)
		}
	})
}

func TestImportTransactions_CancelledBeforePersist(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := mocks.NewMockProcessedIDStore()
	sink := &mocks.MockAtomicSink{Store: store}
	uc := newTestImport(&mocks.MockTransactionSource{Payload: []byte(splitRefuelPayload)}, store, sink)

	report, err := uc.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report.Status != domain.RunFailed {
		t.Errorf("expected failed run, got %s", report.Status)
	}
	if sink.PersistCalls != 0 || len(store.Recorded) != 0 {
		t.Errorf("expected nothing written after cancellation")
	}
}
