package db

import (
	"context"

	"searchpulse/internal/types"
)

// TrafficFactRepo is the idempotent upsert writer for analytics metrics,
// mirroring SearchFactRepo for the traffic provider's two tables:
//
//   - traffic_facts: keyed on (tenant_id, date, source, medium, device_category)
//   - traffic_fact_totals: keyed on (tenant_id, property_id, date)
type TrafficFactRepo struct {
	db        DBTX
	batchSize int
}

// NewTrafficFactRepo creates a TrafficFactRepo with the given batch size
// (<= 0 selects DefaultUpsertBatchSize).
func NewTrafficFactRepo(db DBTX, batchSize int) *TrafficFactRepo {
	if batchSize <= 0 {
		batchSize = DefaultUpsertBatchSize
	}
	return &TrafficFactRepo{db: db, batchSize: batchSize}
}

const trafficFactCols = 10

// UpsertFacts writes granular rows in batches; see SearchFactRepo.UpsertFacts
// for failure semantics.
func (r *TrafficFactRepo) UpsertFacts(ctx context.Context, rows []types.TrafficFact) (int, error) {
	written := 0
	var firstErr error

	for i, bounds := range batchBounds(len(rows), r.batchSize) {
		batch := rows[bounds[0]:bounds[1]]

		query := `
			INSERT INTO traffic_facts
				(tenant_id, date, source, medium, device_category,
				 sessions, total_users, new_users, conversions, revenue)
			VALUES ` + valuesPlaceholders(len(batch), trafficFactCols) + `
			ON CONFLICT (tenant_id, date, source, medium, device_category)
			DO UPDATE SET sessions = EXCLUDED.sessions,
			              total_users = EXCLUDED.total_users,
			              new_users = EXCLUDED.new_users,
			              conversions = EXCLUDED.conversions,
			              revenue = EXCLUDED.revenue,
			              updated_at = NOW()`

		args := make([]any, 0, len(batch)*trafficFactCols)
		for _, f := range batch {
			args = append(args, f.TenantID, f.Date, f.Source, f.Medium, f.DeviceCategory,
				f.Sessions, f.TotalUsers, f.NewUsers, f.Conversions, f.Revenue)
		}

		if _, err := r.db.Exec(ctx, query, args...); err != nil {
			if firstErr == nil {
				firstErr = writeBatchError("traffic_facts", i, bounds[0], bounds[1], err)
			}
			continue
		}
		written += len(batch)
	}

	return written, firstErr
}

const trafficTotalCols = 8

// UpsertTotals writes date-only aggregate rows.
func (r *TrafficFactRepo) UpsertTotals(ctx context.Context, rows []types.TrafficFactTotal) (int, error) {
	written := 0
	var firstErr error

	for i, bounds := range batchBounds(len(rows), r.batchSize) {
		batch := rows[bounds[0]:bounds[1]]

		query := `
			INSERT INTO traffic_fact_totals
				(tenant_id, property_id, date,
				 sessions, total_users, new_users, conversions, revenue)
			VALUES ` + valuesPlaceholders(len(batch), trafficTotalCols) + `
			ON CONFLICT (tenant_id, property_id, date)
			DO UPDATE SET sessions = EXCLUDED.sessions,
			              total_users = EXCLUDED.total_users,
			              new_users = EXCLUDED.new_users,
			              conversions = EXCLUDED.conversions,
			              revenue = EXCLUDED.revenue,
			              updated_at = NOW()`

		args := make([]any, 0, len(batch)*trafficTotalCols)
		for _, f := range batch {
			args = append(args, f.TenantID, f.PropertyID, f.Date,
				f.Sessions, f.TotalUsers, f.NewUsers, f.Conversions, f.Revenue)
		}

		if _, err := r.db.Exec(ctx, query, args...); err != nil {
			if firstErr == nil {
				firstErr = writeBatchError("traffic_fact_totals", i, bounds[0], bounds[1], err)
			}
			continue
		}
		written += len(batch)
	}

	return written, firstErr
}
