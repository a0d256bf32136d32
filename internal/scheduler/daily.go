// Package scheduler drives sync runs: the daily catch-up over yesterday's
// metrics and operator-initiated backfills over arbitrary ranges. A failure
// for one tenant never affects another; the scheduler's contract is that
// nothing escapes a run except the summary.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	enginepkg "searchpulse/internal/sync"
	"searchpulse/internal/types"
)

// SyncEngine runs the dual-pass sync for one tenant.
type SyncEngine interface {
	SyncTenant(ctx context.Context, tenantID string, provider types.Provider, r types.DateRange, opts enginepkg.RunOptions) *types.TenantRunResult
}

// TenantLister enumerates tenants holding a credential for a provider.
type TenantLister interface {
	ListTenantIDs(ctx context.Context, provider types.Provider) ([]string, error)
}

// MetricsEmitter publishes run outcomes to the metrics backend. Emission is
// best-effort and must not fail the run.
type MetricsEmitter interface {
	EmitRun(ctx context.Context, summary *types.RunSummary)
}

// DailySyncConfig configures a DailySync.
type DailySyncConfig struct {
	Engine   SyncEngine
	Tenants  TenantLister
	Metrics  MetricsEmitter
	Location *time.Location // timezone that defines "yesterday"; defaults to UTC
	Workers  int            // concurrent tenants; defaults to 1
	Logger   *slog.Logger
	Now      func() time.Time
}

// DailySync runs the scheduled daily ingestion: every tenant with a
// credential for the provider syncs yesterday's metrics. Yesterday is
// resolved in the configured timezone so the run picks up a day the
// provider has finished reporting on.
type DailySync struct {
	engine  SyncEngine
	tenants TenantLister
	metrics MetricsEmitter
	loc     *time.Location
	workers int
	logger  *slog.Logger
	now     func() time.Time
}

// NewDailySync creates the daily sync runner.
func NewDailySync(cfg DailySyncConfig) *DailySync {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &DailySync{
		engine:  cfg.Engine,
		tenants: cfg.Tenants,
		metrics: cfg.Metrics,
		loc:     loc,
		workers: workers,
		logger:  logger,
		now:     nowFn,
	}
}

// RunOnce syncs yesterday's metrics for every tenant with a credential for
// the provider. The returned error covers only the tenant listing; tenant
// failures are folded into the summary.
func (d *DailySync) RunOnce(ctx context.Context, provider types.Provider) (*types.RunSummary, error) {
	return d.RunDate(ctx, provider, d.yesterday())
}

// RunDate syncs a specific calendar date for every tenant, used when a
// missed scheduled run is replayed.
func (d *DailySync) RunDate(ctx context.Context, provider types.Provider, day time.Time) (*types.RunSummary, error) {
	start := d.now()
	r := types.DateRange{Start: types.Date(day), End: types.Date(day)}

	tenantIDs, err := d.tenants.ListTenantIDs(ctx, provider)
	if err != nil {
		return nil, err
	}

	d.logger.InfoContext(ctx, "daily sync starting",
		"provider", provider,
		"date", r.Start.Format(types.DateLayout),
		"tenants", len(tenantIDs),
		"workers", d.workers,
	)

	var mu sync.Mutex
	results := make([]*types.TenantRunResult, 0, len(tenantIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, tenantID := range tenantIDs {
		g.Go(func() error {
			res := d.engine.SyncTenant(gctx, tenantID, provider, r, enginepkg.RunOptions{})
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			// Tenant isolation: the engine already folded any failure into
			// the result, so the group never cancels.
			return nil
		})
	}
	_ = g.Wait()

	summary := summarize(provider, r, results, start, d.now().Sub(start))
	if d.metrics != nil {
		d.metrics.EmitRun(ctx, summary)
	}

	d.logger.InfoContext(ctx, "daily sync finished",
		"provider", provider,
		"date", r.Start.Format(types.DateLayout),
		"tenants", summary.Tenants,
		"complete", summary.Complete,
		"partial", summary.Partial,
		"skipped", summary.Skipped,
		"duration", summary.Duration,
	)
	return summary, nil
}

// yesterday resolves the previous calendar day in the configured timezone.
// The local date fields are lifted onto UTC midnight because fact rows key
// on calendar dates, not instants.
func (d *DailySync) yesterday() time.Time {
	local := d.now().In(d.loc).AddDate(0, 0, -1)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

func summarize(provider types.Provider, r types.DateRange, results []*types.TenantRunResult, start time.Time, dur time.Duration) *types.RunSummary {
	s := &types.RunSummary{
		Provider:  provider,
		Range:     r,
		Tenants:   len(results),
		Results:   results,
		StartedAt: start.UTC(),
		Duration:  dur,
	}
	for _, res := range results {
		switch res.Status {
		case types.RunStatusComplete:
			s.Complete++
		case types.RunStatusPartial:
			s.Partial++
		case types.RunStatusSkipped:
			s.Skipped++
		}
	}
	return s
}
