package db

import (
	"context"

	"searchpulse/internal/types"
)

// SearchFactRepo is the idempotent upsert writer for search metrics. It
// serves two tables at different granularities:
//
//   - search_facts: fully-dimensioned rows keyed on
//     (tenant_id, date, page, query, country, device)
//   - search_fact_totals: date-only rows keyed on (tenant_id, site_url, date)
//
// On key conflict every metric column is replaced by the incoming value and
// updated_at is touched; key columns are never modified. Each batch is a
// single multi-row INSERT, so a failed batch applies none of its rows.
type SearchFactRepo struct {
	db        DBTX
	batchSize int
}

// NewSearchFactRepo creates a SearchFactRepo with the given batch size
// (<= 0 selects DefaultUpsertBatchSize).
func NewSearchFactRepo(db DBTX, batchSize int) *SearchFactRepo {
	if batchSize <= 0 {
		batchSize = DefaultUpsertBatchSize
	}
	return &SearchFactRepo{db: db, batchSize: batchSize}
}

const searchFactCols = 10

// UpsertFacts writes granular rows in batches. It returns the number of rows
// written; when one or more batches fail it still attempts the remaining
// batches and returns a write_batch_failed error describing the first
// failure, so a bad batch never aborts the whole chunk's siblings.
func (r *SearchFactRepo) UpsertFacts(ctx context.Context, rows []types.SearchFact) (int, error) {
	written := 0
	var firstErr error

	for i, bounds := range batchBounds(len(rows), r.batchSize) {
		batch := rows[bounds[0]:bounds[1]]

		query := `
			INSERT INTO search_facts
				(tenant_id, date, page, query, country, device,
				 clicks, impressions, ctr, position)
			VALUES ` + valuesPlaceholders(len(batch), searchFactCols) + `
			ON CONFLICT (tenant_id, date, page, query, country, device)
			DO UPDATE SET clicks = EXCLUDED.clicks,
			              impressions = EXCLUDED.impressions,
			              ctr = EXCLUDED.ctr,
			              position = EXCLUDED.position,
			              updated_at = NOW()`

		args := make([]any, 0, len(batch)*searchFactCols)
		for _, f := range batch {
			args = append(args, f.TenantID, f.Date, f.Page, f.Query, f.Country, f.Device,
				f.Clicks, f.Impressions, f.CTR, f.Position)
		}

		if _, err := r.db.Exec(ctx, query, args...); err != nil {
			if firstErr == nil {
				firstErr = writeBatchError("search_facts", i, bounds[0], bounds[1], err)
			}
			continue
		}
		written += len(batch)
	}

	return written, firstErr
}

const searchTotalCols = 7

// UpsertTotals writes date-only aggregate rows with the same batching and
// conflict semantics as UpsertFacts.
func (r *SearchFactRepo) UpsertTotals(ctx context.Context, rows []types.SearchFactTotal) (int, error) {
	written := 0
	var firstErr error

	for i, bounds := range batchBounds(len(rows), r.batchSize) {
		batch := rows[bounds[0]:bounds[1]]

		query := `
			INSERT INTO search_fact_totals
				(tenant_id, site_url, date, clicks, impressions, ctr, position)
			VALUES ` + valuesPlaceholders(len(batch), searchTotalCols) + `
			ON CONFLICT (tenant_id, site_url, date)
			DO UPDATE SET clicks = EXCLUDED.clicks,
			              impressions = EXCLUDED.impressions,
			              ctr = EXCLUDED.ctr,
			              position = EXCLUDED.position,
			              updated_at = NOW()`

		args := make([]any, 0, len(batch)*searchTotalCols)
		for _, f := range batch {
			args = append(args, f.TenantID, f.SiteURL, f.Date,
				f.Clicks, f.Impressions, f.CTR, f.Position)
		}

		if _, err := r.db.Exec(ctx, query, args...); err != nil {
			if firstErr == nil {
				firstErr = writeBatchError("search_fact_totals", i, bounds[0], bounds[1], err)
			}
			continue
		}
		written += len(batch)
	}

	return written, firstErr
}
