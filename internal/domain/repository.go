package domain

import (
	"context"
	"time"
)

// TransactionSource fetches the raw transaction array for a time range from the upstream API.
// The returned bytes are the JSON array text; an empty slice or "[]" means no data.
type TransactionSource interface {
	FetchTransactions(ctx context.Context, from, to time.Time) ([]byte, error)
}

// ProcessedIDStore tracks the upstream record ids that were already imported.
type ProcessedIDStore interface {
	// IDsAlreadyKnown returns the subset of ids that were already processed.
	IDsAlreadyKnown(ctx context.Context, ids []string) (map[string]struct{}, error)

	// RecordAsProcessed marks ids as processed.
	RecordAsProcessed(ctx context.Context, ids []string) error
}

// EventSink is an append-only bulk writer for consolidated events.
type EventSink interface {
	Append(ctx context.Context, events []ConsolidatedEvent) error
}

// AtomicPersister is implemented by sinks that can write events and mark their source ids
// as processed in a single transaction.
type AtomicPersister interface {
	Persist(ctx context.Context, events []ConsolidatedEvent, processedIDs []string) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// RunLock guards against concurrent import runs across process instances.
type RunLock interface {
	// Acquire tries to take the lock. ok is false when another holder owns it.
	Acquire(ctx context.Context, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// RunRecorder stores structured failure records for operators.
type RunRecorder interface {
	RecordFailure(ctx context.Context, report RunReport) error
	RecentFailures(ctx context.Context, count int64) ([]RunReport, error)
}

// RunJournal is a local append-only history of run reports.
type RunJournal interface {
	Append(ctx context.Context, report RunReport) error
}
