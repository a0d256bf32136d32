package sync

import (
	"context"
	"log/slog"
	"strings"

	"searchpulse/internal/external"
	"searchpulse/internal/types"
)

// trafficAPI is the slice of the web-analytics reporting client the adapter
// uses.
type trafficAPI interface {
	ListProperties(ctx context.Context, accessToken types.SecretString) ([]external.PropertySummary, error)
	QueryGranular(ctx context.Context, accessToken types.SecretString, tenantID, propertyID string, r types.DateRange, offset, limit int) ([]types.TrafficFact, error)
	QueryAggregate(ctx context.Context, accessToken types.SecretString, tenantID, propertyID string, r types.DateRange, offset, limit int) ([]types.TrafficFactTotal, error)
}

// trafficFactStore is the persistence surface for traffic facts.
type trafficFactStore interface {
	UpsertFacts(ctx context.Context, facts []types.TrafficFact) (int, error)
	UpsertTotals(ctx context.Context, totals []types.TrafficFactTotal) (int, error)
}

// TrafficAdapterConfig configures a TrafficAdapter.
type TrafficAdapterConfig struct {
	API    trafficAPI
	Store  trafficFactStore
	Logger *slog.Logger
}

// TrafficAdapter syncs web-analytics metrics: source/medium/device granular
// rows plus date-only property totals.
type TrafficAdapter struct {
	api    trafficAPI
	store  trafficFactStore
	logger *slog.Logger
}

var _ ProviderAdapter = (*TrafficAdapter)(nil)

// NewTrafficAdapter creates the traffic provider adapter.
func NewTrafficAdapter(cfg TrafficAdapterConfig) *TrafficAdapter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TrafficAdapter{api: cfg.API, store: cfg.Store, logger: logger}
}

func (a *TrafficAdapter) Provider() types.Provider {
	return types.ProviderTraffic
}

// ResolveBinding binds the tenant to its first visible analytics property.
// The property resource name comes back as "properties/<id>"; only the
// numeric ID is stored.
func (a *TrafficAdapter) ResolveBinding(ctx context.Context, tenantID string, accessToken types.SecretString) (string, error) {
	props, err := a.api.ListProperties(ctx, accessToken)
	if err != nil {
		return "", err
	}
	for _, p := range props {
		id := strings.TrimPrefix(p.Property, "properties/")
		if id != "" {
			return id, nil
		}
	}
	return "", types.NewAppError(
		types.ErrCodeBindingNotFound,
		"no analytics property available for tenant",
		nil,
	).WithDetails(map[string]any{"tenant_id": tenantID, "properties_listed": len(props)})
}

func (a *TrafficAdapter) SyncGranularChunk(ctx context.Context, p ChunkParams) (int, int, error) {
	facts, err := FetchAllPages(ctx, a.logger, p.PageSize, func(ctx context.Context, offset, limit int) ([]types.TrafficFact, error) {
		return a.api.QueryGranular(ctx, p.AccessToken, p.TenantID, p.ExternalID, p.Range, offset, limit)
	})
	if err != nil {
		return 0, 0, err
	}
	if len(facts) == 0 {
		return 0, 0, nil
	}

	if p.DryRun {
		a.logDrySample(ctx, p, "granular", len(facts), facts[0])
		return len(facts), 0, nil
	}

	written, err := a.store.UpsertFacts(ctx, facts)
	return len(facts), written, err
}

func (a *TrafficAdapter) SyncAggregateChunk(ctx context.Context, p ChunkParams) (int, int, error) {
	totals, err := FetchAllPages(ctx, a.logger, p.PageSize, func(ctx context.Context, offset, limit int) ([]types.TrafficFactTotal, error) {
		return a.api.QueryAggregate(ctx, p.AccessToken, p.TenantID, p.ExternalID, p.Range, offset, limit)
	})
	if err != nil {
		return 0, 0, err
	}
	if len(totals) == 0 {
		return 0, 0, nil
	}

	if p.DryRun {
		a.logDrySample(ctx, p, "aggregate", len(totals), totals[0])
		return len(totals), 0, nil
	}

	written, err := a.store.UpsertTotals(ctx, totals)
	return len(totals), written, err
}

func (a *TrafficAdapter) logDrySample(ctx context.Context, p ChunkParams, pass string, count int, sample any) {
	a.logger.InfoContext(ctx, "dry run; rows fetched but not written",
		"tenant_id", p.TenantID,
		"provider", types.ProviderTraffic,
		"pass", pass,
		"chunk", p.Range.String(),
		"rows", count,
		"sample", sample,
	)
}
