package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/V4T54L/fuel-importer/internal/domain"
)

// DefaultLookupTimeout bounds the processed-id lookup of one run.
const DefaultLookupTimeout = 10 * time.Second

// PipelineResult is the output of one pipeline run.
type PipelineResult struct {
	Events []domain.ConsolidatedEvent
	// ProcessedIDs are the source ids of every record consumed by Events.
	ProcessedIDs []string
	Rejected     []error
	Items        int
	Parsed       int
	Fresh        int
}

// Pipeline runs parse, duplicate filtering and consolidation for one payload.
type Pipeline struct {
	consolidator  Consolidator
	lookupTimeout time.Duration
	logger        *slog.Logger
}

// NewPipeline creates a Pipeline. A non-positive lookupTimeout selects DefaultLookupTimeout.
func NewPipeline(consolidator Consolidator, lookupTimeout time.Duration, logger *slog.Logger) *Pipeline {
	if lookupTimeout <= 0 {
		lookupTimeout = DefaultLookupTimeout
	}
	return &Pipeline{
		consolidator:  consolidator,
		lookupTimeout: lookupTimeout,
		logger:        logger.With("component", "pipeline"),
	}
}

// Policy returns the active consolidation policy.
func (p *Pipeline) Policy() ConsolidationPolicy { return p.consolidator.Policy }

// Run executes the pipeline over the upstream array text. The "no data" sentinel yields an
// empty result without touching the store. Failures are returned as *domain.PipelineError.
// Cancellation of ctx is honoured between stages; a started stage runs to completion.
func (p *Pipeline) Run(ctx context.Context, payload []byte, store domain.ProcessedIDStore) (PipelineResult, error) {
	items, err := DecodePayload(payload)
	if errors.Is(err, domain.ErrEmptyPayload) {
		p.logger.Debug("upstream returned no data")
		return PipelineResult{}, nil
	}
	if err != nil {
		return PipelineResult{}, domain.Abort(domain.StageParse, err)
	}

	parsed := ParseTransactions(items)
	result := PipelineResult{
		Rejected: parsed.Rejected,
		Items:    len(items),
		Parsed:   len(parsed.Transactions),
	}
	for _, rej := range parsed.Rejected {
		p.logger.Warn("rejected malformed transaction", "error", rej)
	}
	if parsed.Dropped > 0 {
		p.logger.Debug("dropped transactions without station id", "count", parsed.Dropped)
	}
	if len(parsed.Transactions) == 0 {
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return PipelineResult{}, domain.Abort(domain.StageDeduplicate, err)
	}

	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.lookupTimeout)
	fresh, err := FilterDuplicates(lookupCtx, parsed.Transactions, store)
	cancel()
	if err != nil {
		return PipelineResult{}, domain.Abort(domain.StageDeduplicate, err)
	}
	result.Fresh = len(fresh)
	if len(fresh) == 0 {
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return PipelineResult{}, domain.Abort(domain.StageConsolidate, err)
	}

	result.Events = p.consolidator.Consolidate(fresh)
	result.ProcessedIDs = make([]string, 0, len(fresh))
	for _, ev := range result.Events {
		result.ProcessedIDs = append(result.ProcessedIDs, ev.SourceRecordIDs...)
	}
	return result, nil
}
