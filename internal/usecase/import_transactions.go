package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/fuel-importer/internal/adapter/metrics"
	"github.com/V4T54L/fuel-importer/internal/domain"
)

const (
	defaultLookback       = 24 * time.Hour
	defaultRunLockTTL     = 5 * time.Minute
	defaultPersistTimeout = 2 * time.Minute
	reportWriteTimeout    = 5 * time.Second
)

// ImportOption configures an ImportTransactionsUseCase.
type ImportOption func(*ImportTransactionsUseCase)

// WithClock overrides the wall clock used for the fetch range and report timestamps.
func WithClock(c domain.Clock) ImportOption {
	return func(uc *ImportTransactionsUseCase) { uc.clock = c }
}

// WithLookback sets how far back each run asks the upstream API for transactions.
func WithLookback(d time.Duration) ImportOption {
	return func(uc *ImportTransactionsUseCase) {
		if d > 0 {
			uc.lookback = d
		}
	}
}

// WithPersistTimeout bounds the persistence stage.
func WithPersistTimeout(d time.Duration) ImportOption {
	return func(uc *ImportTransactionsUseCase) {
		if d > 0 {
			uc.persistTimeout = d
		}
	}
}

// WithRunLock makes every run take lock before it starts.
func WithRunLock(lock domain.RunLock, ttl time.Duration) ImportOption {
	return func(uc *ImportTransactionsUseCase) {
		uc.lock = lock
		if ttl > 0 {
			uc.lockTTL = ttl
		}
	}
}

// WithRecorder stores failure reports in recorder.
func WithRecorder(recorder domain.RunRecorder) ImportOption {
	return func(uc *ImportTransactionsUseCase) { uc.recorder = recorder }
}

// WithJournal appends every run report to journal.
func WithJournal(journal domain.RunJournal) ImportOption {
	return func(uc *ImportTransactionsUseCase) { uc.journal = journal }
}

// WithMetrics reports run outcomes to m.
func WithMetrics(m *metrics.ImporterMetrics) ImportOption {
	return func(uc *ImportTransactionsUseCase) { uc.metrics = m }
}

// ImportTransactionsUseCase performs one import run: fetch the upstream payload, run the
// consolidation pipeline and persist the consolidated events.
type ImportTransactionsUseCase struct {
	source   domain.TransactionSource
	store    domain.ProcessedIDStore
	sink     domain.EventSink
	pipeline *Pipeline
	logger   *slog.Logger

	clock          domain.Clock
	lookback       time.Duration
	persistTimeout time.Duration
	lock           domain.RunLock
	lockTTL        time.Duration
	recorder       domain.RunRecorder
	journal        domain.RunJournal
	metrics        *metrics.ImporterMetrics
}

// NewImportTransactionsUseCase creates the import use case.
func NewImportTransactionsUseCase(
	source domain.TransactionSource,
	store domain.ProcessedIDStore,
	sink domain.EventSink,
	pipeline *Pipeline,
	logger *slog.Logger,
	opts ...ImportOption,
) *ImportTransactionsUseCase {
	uc := &ImportTransactionsUseCase{
		source:         source,
		store:          store,
		sink:           sink,
		pipeline:       pipeline,
		logger:         logger.With("component", "import"),
		clock:          domain.SystemClock{},
		lookback:       defaultLookback,
		persistTimeout: defaultPersistTimeout,
		lockTTL:        defaultRunLockTTL,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Run executes one import. The returned report is always populated; the error is a
// *domain.PipelineError when the run failed. Cancelling ctx stops the run at the next
// stage boundary.
func (uc *ImportTransactionsUseCase) Run(ctx context.Context) (domain.RunReport, error) {
	report := domain.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: uc.clock.Now(),
		Policy:    string(uc.pipeline.Policy()),
	}
	log := uc.logger.With("run_id", report.RunID)
	log.Info("import run started")

	// Stages run to completion once started; ctx is only checked between them.
	stageCtx := context.WithoutCancel(ctx)

	if uc.lock != nil {
		release, ok, err := uc.lock.Acquire(stageCtx, uc.lockTTL)
		if err != nil {
			return uc.finish(log, report, domain.Abort(domain.StageLock, err))
		}
		if !ok {
			report.Status = domain.RunSkipped
			report.Reason = "run lock held by another instance"
			return uc.finish(log, report, nil)
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(stageCtx, reportWriteTimeout)
			defer cancel()
			if err := release(releaseCtx); err != nil {
				log.Warn("failed to release run lock", "error", err)
			}
		}()
	}

	now := uc.clock.Now()
	payload, err := uc.source.FetchTransactions(stageCtx, now.Add(-uc.lookback), now)
	if err != nil {
		return uc.finish(log, report, domain.Abort(domain.StageFetch, err))
	}
	if err := ctx.Err(); err != nil {
		return uc.finish(log, report, domain.Abort(domain.StageParse, err))
	}

	result, err := uc.pipeline.Run(ctx, payload, uc.store)
	report.Fetched = result.Items
	report.Parsed = result.Parsed
	report.Rejected = len(result.Rejected)
	report.Fresh = result.Fresh
	if err != nil {
		return uc.finish(log, report, err)
	}
	if len(result.Events) == 0 {
		report.Status = domain.RunEmpty
		return uc.finish(log, report, nil)
	}

	if err := ctx.Err(); err != nil {
		return uc.finish(log, report, domain.Abort(domain.StagePersist, err))
	}

	for i := range result.Events {
		result.Events[i].GeneratedID = uuid.New()
	}
	persistCtx, cancel := context.WithTimeout(stageCtx, uc.persistTimeout)
	err = uc.persist(persistCtx, result.Events, result.ProcessedIDs)
	cancel()
	if err != nil {
		return uc.finish(log, report, domain.Abort(domain.StagePersist, err))
	}

	for _, ev := range result.Events {
		log.Debug("persisted consolidated event",
			"transaction_id", ev.GeneratedID,
			"plate", ev.VehiclePlate,
			"viu_id", ev.DeviceID,
			"transaction_date", ev.TimestampUTC,
			"fuel_amount", ev.TotalQuantity.String(),
			"fuel_type", ev.ProductName,
			"total_price", ev.TotalPrice.String(),
			"unit_price", ev.UnitPrice.String(),
			"station_transaction_ids", ev.SourceRecordIDs,
		)
	}

	report.Events = len(result.Events)
	report.Status = domain.RunSucceeded
	return uc.finish(log, report, nil)
}

// persist writes events and marks their ids as processed, atomically when the sink supports it.
func (uc *ImportTransactionsUseCase) persist(ctx context.Context, events []domain.ConsolidatedEvent, ids []string) error {
	if p, ok := uc.sink.(domain.AtomicPersister); ok {
		return p.Persist(ctx, events, ids)
	}
	if err := uc.sink.Append(ctx, events); err != nil {
		return err
	}
	return uc.store.RecordAsProcessed(ctx, ids)
}

func (uc *ImportTransactionsUseCase) finish(log *slog.Logger, report domain.RunReport, runErr error) (domain.RunReport, error) {
	report.FinishedAt = uc.clock.Now()
	if runErr != nil {
		report.Status = domain.RunFailed
		report.Reason = runErr.Error()
		if stage, ok := domain.StageOf(runErr); ok {
			report.Stage = stage
		}
	}

	attrs := []any{
		"status", report.Status,
		"duration_ms", report.Duration().Milliseconds(),
		"fetched", report.Fetched,
		"parsed", report.Parsed,
		"rejected", report.Rejected,
		"fresh", report.Fresh,
		"events", report.Events,
		"policy", report.Policy,
	}
	switch report.Status {
	case domain.RunFailed:
		log.Error("import run failed", append(attrs, "stage", report.Stage, "error", runErr)...)
	case domain.RunSkipped:
		log.Info("import run skipped", "reason", report.Reason)
	default:
		log.Info("import run finished", attrs...)
	}

	uc.metrics.ObserveRun(report)

	writeCtx, cancel := context.WithTimeout(context.Background(), reportWriteTimeout)
	defer cancel()
	if uc.journal != nil {
		if err := uc.journal.Append(writeCtx, report); err != nil {
			log.Warn("failed to append run report to journal", "error", err)
		}
	}
	if report.Status == domain.RunFailed && uc.recorder != nil {
		if err := uc.recorder.RecordFailure(writeCtx, report); err != nil {
			log.Warn("failed to record run failure", "error", err)
		}
	}
	return report, runErr
}
