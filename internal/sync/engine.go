package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"searchpulse/internal/types"
)

// ChunkParams carries everything an adapter needs to sync one date chunk for
// one tenant.
type ChunkParams struct {
	TenantID    string
	ExternalID  string // site URL or property ID, depending on the provider
	AccessToken types.SecretString
	Range       types.DateRange
	PageSize    int
	DryRun      bool
}

// ProviderAdapter is the per-provider strategy the engine drives. Adapters
// own the provider's wire semantics and fact tables; the engine owns token
// acquisition, binding resolution, chunking, and failure accounting.
type ProviderAdapter interface {
	Provider() types.Provider
	// ResolveBinding discovers the provider-side resource for a tenant with
	// no stored binding. It returns the external ID to bind to.
	ResolveBinding(ctx context.Context, tenantID string, accessToken types.SecretString) (string, error)
	SyncGranularChunk(ctx context.Context, p ChunkParams) (fetched, written int, err error)
	SyncAggregateChunk(ctx context.Context, p ChunkParams) (fetched, written int, err error)
}

// TokenSource hands out valid access tokens for (tenant, provider) pairs.
type TokenSource interface {
	GetValidToken(ctx context.Context, tenantID string, provider types.Provider) (types.SecretString, error)
}

// BindingStore is the persistence surface for tenant-resource bindings.
type BindingStore interface {
	Get(ctx context.Context, tenantID string, provider types.Provider) (*types.Binding, error)
	Create(ctx context.Context, b *types.Binding) error
}

// EngineConfig configures the sync engine.
type EngineConfig struct {
	Tokens             TokenSource
	Bindings           BindingStore
	Adapters           []ProviderAdapter
	GranularChunkDays  int
	AggregateChunkDays int
	PageSize           int
	Logger             *slog.Logger
}

// RunOptions overrides engine defaults for a single run. Zero values fall
// back to the configured defaults.
type RunOptions struct {
	DryRun             bool
	GranularChunkDays  int
	AggregateChunkDays int
}

// Engine runs the dual-pass synchronization for one tenant at a time. Every
// chunk is independent: a failed chunk is counted and logged, and the
// remaining chunks still run. The granular and aggregate passes hit the
// provider separately because neither can be derived from the other.
type Engine struct {
	tokens             TokenSource
	bindings           BindingStore
	adapters           map[types.Provider]ProviderAdapter
	granularChunkDays  int
	aggregateChunkDays int
	pageSize           int
	logger             *slog.Logger
}

// NewEngine creates a sync engine.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	granular := cfg.GranularChunkDays
	if granular <= 0 {
		granular = 3
	}
	aggregate := cfg.AggregateChunkDays
	if aggregate <= 0 {
		aggregate = 30
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 5000
	}

	adapters := make(map[types.Provider]ProviderAdapter, len(cfg.Adapters))
	for _, a := range cfg.Adapters {
		adapters[a.Provider()] = a
	}

	return &Engine{
		tokens:             cfg.Tokens,
		bindings:           cfg.Bindings,
		adapters:           adapters,
		granularChunkDays:  granular,
		aggregateChunkDays: aggregate,
		pageSize:           pageSize,
		logger:             logger,
	}
}

// SyncTenant runs both passes for one tenant over the given range and
// returns the outcome record. It never returns an error: every failure mode
// is folded into the TenantRunResult so callers can treat tenants uniformly.
func (e *Engine) SyncTenant(ctx context.Context, tenantID string, provider types.Provider, r types.DateRange, opts RunOptions) *types.TenantRunResult {
	result := &types.TenantRunResult{
		RunID:     uuid.NewString(),
		TenantID:  tenantID,
		Provider:  provider,
		Range:     r,
		StartedAt: time.Now().UTC(),
	}
	defer func() {
		result.FinishedAt = time.Now().UTC()
	}()

	adapter, ok := e.adapters[provider]
	if !ok {
		result.Status = types.RunStatusSkipped
		result.LastErr = "no adapter registered for provider " + string(provider)
		e.logger.ErrorContext(ctx, "no adapter registered", "provider", provider)
		return result
	}

	token, err := e.tokens.GetValidToken(ctx, tenantID, provider)
	if err != nil {
		return e.recordTokenFailure(ctx, result, err)
	}

	externalID, err := e.resolveBinding(ctx, adapter, tenantID, provider, token)
	if err != nil {
		return e.recordBindingFailure(ctx, result, err)
	}

	granularDays := opts.GranularChunkDays
	if granularDays <= 0 {
		granularDays = e.granularChunkDays
	}
	aggregateDays := opts.AggregateChunkDays
	if aggregateDays <= 0 {
		aggregateDays = e.aggregateChunkDays
	}

	base := ChunkParams{
		TenantID:    tenantID,
		ExternalID:  externalID,
		AccessToken: token,
		PageSize:    e.pageSize,
		DryRun:      opts.DryRun,
	}

	credDead := e.runPass(ctx, result, "granular", ChunkRange(r, granularDays), base, adapter.SyncGranularChunk,
		&result.GranularFetched, &result.GranularWritten)
	if !credDead {
		credDead = e.runPass(ctx, result, "aggregate", ChunkRange(r, aggregateDays), base, adapter.SyncAggregateChunk,
			&result.AggregateFetched, &result.AggregateWritten)
	}

	totalFetched := result.GranularFetched + result.AggregateFetched
	switch {
	case credDead && totalFetched == 0:
		result.Status = types.RunStatusSkipped
		result.SkipReason = types.SkipReasonCredentialInvalid
	case credDead || result.ChunksFailed > 0:
		result.Status = types.RunStatusPartial
	case totalFetched == 0:
		result.Status = types.RunStatusSkipped
		result.SkipReason = types.SkipReasonEmptyResult
	default:
		result.Status = types.RunStatusComplete
	}

	e.logger.InfoContext(ctx, "tenant sync finished",
		"run_id", result.RunID,
		"tenant_id", tenantID,
		"provider", provider,
		"range", r.String(),
		"status", result.Status,
		"granular_fetched", result.GranularFetched,
		"granular_written", result.GranularWritten,
		"aggregate_fetched", result.AggregateFetched,
		"aggregate_written", result.AggregateWritten,
		"chunks_failed", result.ChunksFailed,
		"dry_run", opts.DryRun,
	)
	return result
}

type chunkFunc func(ctx context.Context, p ChunkParams) (int, int, error)

// runPass executes one pass over its chunks with per-chunk isolation. It
// returns true when the credential was rejected mid-pass, which aborts the
// rest of the run: every further call would fail the same way.
func (e *Engine) runPass(
	ctx context.Context,
	result *types.TenantRunResult,
	pass string,
	chunks []types.DateRange,
	base ChunkParams,
	fn chunkFunc,
	fetched, written *int,
) bool {
	for _, chunk := range chunks {
		p := base
		p.Range = chunk

		f, w, err := fn(ctx, p)
		*fetched += f
		*written += w
		if err == nil {
			continue
		}

		result.ChunksFailed++
		result.LastErr = err.Error()
		if types.IsCredentialInvalid(err) {
			e.logger.WarnContext(ctx, "credential rejected mid-run; aborting remaining chunks",
				"run_id", result.RunID,
				"tenant_id", result.TenantID,
				"provider", result.Provider,
				"pass", pass,
				"chunk", chunk.String(),
			)
			return true
		}
		e.logger.ErrorContext(ctx, "chunk sync failed",
			"run_id", result.RunID,
			"tenant_id", result.TenantID,
			"provider", result.Provider,
			"pass", pass,
			"chunk", chunk.String(),
			"error", err,
		)
	}
	return false
}

// resolveBinding returns the stored binding's external ID, or discovers and
// persists one on first sync. Bindings are immutable: a concurrent create
// loses silently and the stored row wins on the next run.
func (e *Engine) resolveBinding(
	ctx context.Context,
	adapter ProviderAdapter,
	tenantID string,
	provider types.Provider,
	token types.SecretString,
) (string, error) {
	binding, err := e.bindings.Get(ctx, tenantID, provider)
	if err != nil {
		return "", err
	}
	if binding != nil {
		return binding.ExternalID, nil
	}

	externalID, err := adapter.ResolveBinding(ctx, tenantID, token)
	if err != nil {
		return "", err
	}

	if err := e.bindings.Create(ctx, &types.Binding{
		TenantID:   tenantID,
		Provider:   provider,
		ExternalID: externalID,
	}); err != nil {
		return "", err
	}

	e.logger.InfoContext(ctx, "binding discovered",
		"tenant_id", tenantID,
		"provider", provider,
		"external_id", externalID,
	)
	return externalID, nil
}

func (e *Engine) recordTokenFailure(ctx context.Context, result *types.TenantRunResult, err error) *types.TenantRunResult {
	result.LastErr = err.Error()
	switch types.CodeOf(err) {
	case types.ErrCodeCredentialNotFound:
		result.Status = types.RunStatusSkipped
		result.SkipReason = types.SkipReasonNoCredential
		e.logger.InfoContext(ctx, "tenant has no credential; skipping",
			"tenant_id", result.TenantID, "provider", result.Provider)
	case types.ErrCodeCredentialInvalid:
		result.Status = types.RunStatusSkipped
		result.SkipReason = types.SkipReasonCredentialInvalid
		e.logger.WarnContext(ctx, "tenant credential requires re-authorization; skipping",
			"tenant_id", result.TenantID, "provider", result.Provider)
	default:
		// Transient refresh failure: nothing synced, but the credential is
		// presumed healthy, so the run counts as partial rather than skipped.
		result.Status = types.RunStatusPartial
		e.logger.ErrorContext(ctx, "token acquisition failed",
			"tenant_id", result.TenantID, "provider", result.Provider, "error", err)
	}
	return result
}

func (e *Engine) recordBindingFailure(ctx context.Context, result *types.TenantRunResult, err error) *types.TenantRunResult {
	result.LastErr = err.Error()
	switch types.CodeOf(err) {
	case types.ErrCodeBindingNotFound:
		result.Status = types.RunStatusSkipped
		result.SkipReason = types.SkipReasonNoBinding
		e.logger.WarnContext(ctx, "tenant has no queryable resource; skipping",
			"tenant_id", result.TenantID, "provider", result.Provider)
	case types.ErrCodeCredentialInvalid:
		result.Status = types.RunStatusSkipped
		result.SkipReason = types.SkipReasonCredentialInvalid
		e.logger.WarnContext(ctx, "credential rejected during binding discovery; skipping",
			"tenant_id", result.TenantID, "provider", result.Provider)
	default:
		result.Status = types.RunStatusPartial
		e.logger.ErrorContext(ctx, "binding resolution failed",
			"tenant_id", result.TenantID, "provider", result.Provider, "error", err)
	}
	return result
}
