package usecase

import (
	"context"
	"fmt"

	"github.com/V4T54L/fuel-importer/internal/domain"
)

// FilterDuplicates returns the records whose SourceRecordID is not yet known to store,
// in input order. It performs a single batched lookup and never touches the store for
// an empty input. A record id repeated within the batch is kept only once.
func FilterDuplicates(ctx context.Context, records []domain.RawTransaction, store domain.ProcessedIDStore) ([]domain.RawTransaction, error) {
	if len(records) == 0 {
		return nil, nil
	}

	ids := distinctSourceIDs(records)
	known, err := store.IDsAlreadyKnown(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	fresh := make([]domain.RawTransaction, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if _, ok := known[rec.SourceRecordID]; ok {
			continue
		}
		if _, ok := seen[rec.SourceRecordID]; ok {
			continue
		}
		seen[rec.SourceRecordID] = struct{}{}
		fresh = append(fresh, rec)
	}
	return fresh, nil
}

func distinctSourceIDs(records []domain.RawTransaction) []string {
	seen := make(map[string]struct{}, len(records))
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if _, ok := seen[rec.SourceRecordID]; ok {
			continue
		}
		seen[rec.SourceRecordID] = struct{}{}
		ids = append(ids, rec.SourceRecordID)
	}
	return ids
}
