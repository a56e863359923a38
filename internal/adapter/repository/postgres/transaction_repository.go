package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/V4T54L/fuel-importer/internal/domain"
)

const (
	transactionsTableName = "fuel_transactions"
	// legacyIDSeparator joins member ids into the single-column station_transaction_id.
	legacyIDSeparator = "|"
)

// TransactionRepository is the append-only PostgreSQL sink for consolidated events.
// It implements domain.EventSink and domain.AtomicPersister.
type TransactionRepository struct {
	db        *sql.DB
	logger    *slog.Logger
	processed *ProcessedIDRepository
	now       func() time.Time
}

// NewTransactionRepository creates a new PostgreSQL transaction repository. When processed
// is non-nil its cache is warmed with the ids committed by Persist.
func NewTransactionRepository(db *sql.DB, logger *slog.Logger, processed *ProcessedIDRepository) *TransactionRepository {
	return &TransactionRepository{
		db:        db,
		logger:    logger.With("component", "transaction_repository"),
		processed: processed,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Append writes events using the COPY protocol in a single transaction.
func (r *TransactionRepository) Append(ctx context.Context, events []domain.ConsolidatedEvent) error {
	if len(events) == 0 {
		return nil
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer txn.Rollback() // Rollback is a no-op if Commit() is called

	if err := r.copyEvents(ctx, txn, events); err != nil {
		return err
	}
	return txn.Commit()
}

// Persist writes events and marks processedIDs as processed in one transaction, so a
// crash can never leave events without their ids or ids without their events.
func (r *TransactionRepository) Persist(ctx context.Context, events []domain.ConsolidatedEvent, processedIDs []string) error {
	if len(events) == 0 && len(processedIDs) == 0 {
		return nil
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer txn.Rollback() // Rollback is a no-op if Commit() is called

	if len(events) > 0 {
		if err := r.copyEvents(ctx, txn, events); err != nil {
			return err
		}
	}
	if len(processedIDs) > 0 {
		if err := copyProcessedIDs(ctx, txn, processedIDs); err != nil {
			return err
		}
	}
	if err := txn.Commit(); err != nil {
		return err
	}

	r.processed.remember(processedIDs)
	r.logger.Debug("persisted events", "events", len(events), "processed_ids", len(processedIDs))
	return nil
}

func (r *TransactionRepository) copyEvents(ctx context.Context, txn *sql.Tx, events []domain.ConsolidatedEvent) error {
	// Stage the rows in a temporary table, then insert into the main table.
	tempTableName := "fuel_transactions_temp_import"
	_, err := txn.ExecContext(ctx, `CREATE TEMP TABLE `+tempTableName+` (LIKE `+transactionsTableName+` INCLUDING DEFAULTS) ON COMMIT DROP;`)
	if err != nil {
		return err
	}

	stmt, err := txn.PrepareContext(ctx, pq.CopyIn(tempTableName,
		"transaction_id", "transaction_date", "license_plate", "fuel_amount", "fuel_type",
		"station_transaction_id", "station_transaction_ids", "created_at", "viu_id",
		"total_price", "unit_price"))
	if err != nil {
		return err
	}

	createdAt := r.now()
	for _, ev := range events {
		_, err = stmt.ExecContext(ctx,
			ev.GeneratedID,
			ev.TimestampUTC,
			ev.VehiclePlate,
			ev.TotalQuantity,
			ev.ProductName,
			strings.Join(ev.SourceRecordIDs, legacyIDSeparator),
			pq.Array(ev.SourceRecordIDs),
			createdAt,
			ev.DeviceID,
			ev.TotalPrice,
			ev.UnitPrice,
		)
		if err != nil {
			// Close the statement to avoid connection issues
			_ = stmt.Close()
			return err
		}
	}
	// Flush the COPY buffer
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return err
	}
	if err := stmt.Close(); err != nil {
		return err
	}

	_, err = txn.ExecContext(ctx, `
		INSERT INTO `+transactionsTableName+` (transaction_id, transaction_date, license_plate, fuel_amount, fuel_type,
			station_transaction_id, station_transaction_ids, created_at, viu_id, total_price, unit_price)
		SELECT transaction_id, transaction_date, license_plate, fuel_amount, fuel_type,
			station_transaction_id, station_transaction_ids, created_at, viu_id, total_price, unit_price
		FROM `+tempTableName+`;
	`)
	return err
}
