package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/V4T54L/fuel-importer/internal/adapter/metrics"
)

const (
	processedTableName = "processed_transactions"
	// maxCacheEntries bounds the local cache; expired entries are swept once it is reached.
	maxCacheEntries = 200_000
	// lookupChunkSize caps the number of ids bound into a single ANY($1) query.
	lookupChunkSize = 5_000
)

// ProcessedIDRepository implements domain.ProcessedIDStore using PostgreSQL as the
// source of truth and an in-memory, time-based cache of ids known to be processed.
// Only positive hits are cached: a processed id never becomes unprocessed.
type ProcessedIDRepository struct {
	db       *sql.DB
	logger   *slog.Logger
	cache    map[string]time.Time
	mu       sync.RWMutex
	cacheTTL time.Duration
	metrics  *metrics.ImporterMetrics
}

// NewProcessedIDRepository creates a new PostgreSQL processed id repository.
// A non-positive cacheTTL disables the cache.
func NewProcessedIDRepository(db *sql.DB, logger *slog.Logger, cacheTTL time.Duration, m *metrics.ImporterMetrics) *ProcessedIDRepository {
	return &ProcessedIDRepository{
		db:       db,
		logger:   logger.With("component", "processed_id_repository"),
		cache:    make(map[string]time.Time),
		cacheTTL: cacheTTL,
		metrics:  m,
	}
}

// IDsAlreadyKnown returns the subset of ids present in processed_transactions.
// Cached ids are answered locally; the remainder is resolved with one query per chunk.
func (r *ProcessedIDRepository) IDsAlreadyKnown(ctx context.Context, ids []string) (map[string]struct{}, error) {
	known := make(map[string]struct{})
	if len(ids) == 0 {
		return known, nil
	}

	// 1. Check cache with a read lock
	now := time.Now()
	missing := make([]string, 0, len(ids))
	r.mu.RLock()
	for _, id := range ids {
		if exp, ok := r.cache[id]; ok && now.Before(exp) {
			known[id] = struct{}{}
			continue
		}
		missing = append(missing, id)
	}
	r.mu.RUnlock()

	if r.metrics != nil {
		r.metrics.ProcessedIDCacheHits.Add(float64(len(known)))
		r.metrics.ProcessedIDCacheMiss.Add(float64(len(missing)))
	}
	if len(missing) == 0 {
		return known, nil
	}

	// 2. Query the database for the rest
	found := make([]string, 0)
	query := `SELECT station_transaction_id FROM ` + processedTableName + ` WHERE station_transaction_id = ANY($1)`
	for start := 0; start < len(missing); start += lookupChunkSize {
		end := min(start+lookupChunkSize, len(missing))
		rows, err := r.db.QueryContext(ctx, query, pq.Array(missing[start:end]))
		if err != nil {
			r.logger.Error("failed to look up processed ids", "error", err)
			// Don't cache errors, let the next run retry from the DB
			return nil, err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			found = append(found, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	// 3. Update cache
	for _, id := range found {
		known[id] = struct{}{}
	}
	r.remember(found)
	return known, nil
}

// RecordAsProcessed inserts ids into processed_transactions in its own transaction.
// Ids that are already present are ignored.
func (r *ProcessedIDRepository) RecordAsProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer txn.Rollback() // Rollback is a no-op if Commit() is called

	if err := copyProcessedIDs(ctx, txn, ids); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	r.remember(ids)
	return nil
}

// remember marks ids as processed in the local cache.
func (r *ProcessedIDRepository) remember(ids []string) {
	if r == nil || r.cacheTTL <= 0 || len(ids) == 0 {
		return
	}
	now := time.Now()
	expiresAt := now.Add(r.cacheTTL)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cache)+len(ids) > maxCacheEntries {
		for id, exp := range r.cache {
			if !now.Before(exp) {
				delete(r.cache, id)
			}
		}
	}
	for _, id := range ids {
		if len(r.cache) >= maxCacheEntries {
			break
		}
		r.cache[id] = expiresAt
	}
}

// copyProcessedIDs stages ids in a temporary table with COPY and merges them into
// processed_transactions within txn.
func copyProcessedIDs(ctx context.Context, txn *sql.Tx, ids []string) error {
	tempTableName := "processed_ids_temp_import"
	_, err := txn.ExecContext(ctx, `CREATE TEMP TABLE `+tempTableName+` (station_transaction_id text) ON COMMIT DROP;`)
	if err != nil {
		return err
	}

	stmt, err := txn.PrepareContext(ctx, pq.CopyIn(tempTableName, "station_transaction_id"))
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
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
		INSERT INTO `+processedTableName+` (station_transaction_id, processed_at)
		SELECT DISTINCT station_transaction_id, NOW() FROM `+tempTableName+`
		ON CONFLICT (station_transaction_id) DO NOTHING;
	`)
	return err
}
