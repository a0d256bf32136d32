package sync

import (
	"context"
	"testing"
	"time"

	"searchpulse/internal/types"
)

// --- Mocks ---

type mockTokens struct {
	token types.SecretString
	err   error
}

func (m *mockTokens) GetValidToken(_ context.Context, _ string, _ types.Provider) (types.SecretString, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.token, nil
}

type mockBindings struct {
	binding *types.Binding
	getErr  error

	created   []*types.Binding
	createErr error
}

func (m *mockBindings) Get(_ context.Context, _ string, _ types.Provider) (*types.Binding, error) {
	return m.binding, m.getErr
}

func (m *mockBindings) Create(_ context.Context, b *types.Binding) error {
	m.created = append(m.created, b)
	return m.createErr
}

// chunkResult scripts one adapter chunk call.
type chunkResult struct {
	fetched int
	written int
	err     error
}

type mockAdapter struct {
	provider   types.Provider
	externalID string
	resolveErr error

	granularResults  []chunkResult
	aggregateResults []chunkResult

	resolveCalls   int
	granularCalls  []ChunkParams
	aggregateCalls []ChunkParams
}

func (m *mockAdapter) Provider() types.Provider { return m.provider }

func (m *mockAdapter) ResolveBinding(_ context.Context, _ string, _ types.SecretString) (string, error) {
	m.resolveCalls++
	if m.resolveErr != nil {
		return "", m.resolveErr
	}
	return m.externalID, nil
}

func (m *mockAdapter) SyncGranularChunk(_ context.Context, p ChunkParams) (int, int, error) {
	m.granularCalls = append(m.granularCalls, p)
	res := m.granularResults[len(m.granularCalls)-1]
	return res.fetched, res.written, res.err
}

func (m *mockAdapter) SyncAggregateChunk(_ context.Context, p ChunkParams) (int, int, error) {
	m.aggregateCalls = append(m.aggregateCalls, p)
	res := m.aggregateResults[len(m.aggregateCalls)-1]
	return res.fetched, res.written, res.err
}

func newTestEngine(adapter *mockAdapter, tokens *mockTokens, bindings *mockBindings) *Engine {
	return NewEngine(EngineConfig{
		Tokens:             tokens,
		Bindings:           bindings,
		Adapters:           []ProviderAdapter{adapter},
		GranularChunkDays:  3,
		AggregateChunkDays: 30,
		PageSize:           1000,
		Logger:             testLogger(),
	})
}

func storedBinding(externalID string) *mockBindings {
	return &mockBindings{binding: &types.Binding{
		TenantID:   "t-1",
		Provider:   types.ProviderSearch,
		ExternalID: externalID,
	}}
}

// --- Tests ---

func TestEngine_CompleteRun(t *testing.T) {
	adapter := &mockAdapter{
		provider:         types.ProviderSearch,
		granularResults:  []chunkResult{{fetched: 50, written: 50}},
		aggregateResults: []chunkResult{{fetched: 1, written: 1}},
	}
	engine := newTestEngine(adapter, &mockTokens{token: "tok"}, storedBinding("sc-domain:example.com"))

	r := types.DateRange{Start: day(2026, 3, 14), End: day(2026, 3, 14)}
	result := engine.SyncTenant(context.Background(), "t-1", types.ProviderSearch, r, RunOptions{})

	if result.Status != types.RunStatusComplete {
		t.Fatalf("expected complete, got %s (last_err=%s)", result.Status, result.LastErr)
	}
	if result.GranularFetched != 50 || result.GranularWritten != 50 {
		t.Errorf("granular counts wrong: %d/%d", result.GranularWritten, result.GranularFetched)
	}
	if result.AggregateFetched != 1 || result.AggregateWritten != 1 {
		t.Errorf("aggregate counts wrong: %d/%d", result.AggregateWritten, result.AggregateFetched)
	}
	if result.ChunksFailed != 0 {
		t.Errorf("expected no failed chunks, got %d", result.ChunksFailed)
	}
	if len(adapter.granularCalls) != 1 || len(adapter.aggregateCalls) != 1 {
		t.Errorf("expected one chunk per pass, got %d granular, %d aggregate",
			len(adapter.granularCalls), len(adapter.aggregateCalls))
	}
	if got := adapter.granularCalls[0].ExternalID; got != "sc-domain:example.com" {
		t.Errorf("adapter received external ID %q", got)
	}
	if result.RunID == "" {
		t.Error("expected a run ID")
	}
}

func TestEngine_ChunkFailureIsolation(t *testing.T) {
	adapter := &mockAdapter{
		provider: types.ProviderSearch,
		granularResults: []chunkResult{
			{err: types.NewAppError(types.ErrCodeUpstreamTransient, "timeout", nil)},
			{fetched: 30, written: 30},
		},
		aggregateResults: []chunkResult{{fetched: 6, written: 6}},
	}
	engine := newTestEngine(adapter, &mockTokens{token: "tok"}, storedBinding("sc-domain:example.com"))

	// Six days with a 3-day granular chunk: two granular chunks, one aggregate.
	r := types.DateRange{Start: day(2026, 3, 1), End: day(2026, 3, 6)}
	result := engine.SyncTenant(context.Background(), "t-1", types.ProviderSearch, r, RunOptions{})

	if result.Status != types.RunStatusPartial {
		t.Fatalf("expected partial, got %s", result.Status)
	}
	if len(adapter.granularCalls) != 2 {
		t.Errorf("failed chunk must not abort its siblings; got %d granular calls", len(adapter.granularCalls))
	}
	if len(adapter.aggregateCalls) != 1 {
		t.Errorf("aggregate pass must still run after a granular failure; got %d calls", len(adapter.aggregateCalls))
	}
	if result.ChunksFailed != 1 {
		t.Errorf("expected 1 failed chunk, got %d", result.ChunksFailed)
	}
	if result.GranularWritten != 30 || result.AggregateWritten != 6 {
		t.Errorf("written counts wrong: granular=%d aggregate=%d", result.GranularWritten, result.AggregateWritten)
	}
	if result.LastErr == "" {
		t.Error("expected last error to be recorded")
	}
}

func TestEngine_EmptyResultIsSkipped(t *testing.T) {
	adapter := &mockAdapter{
		provider:         types.ProviderSearch,
		granularResults:  []chunkResult{{}},
		aggregateResults: []chunkResult{{}},
	}
	engine := newTestEngine(adapter, &mockTokens{token: "tok"}, storedBinding("sc-domain:example.com"))

	r := types.DateRange{Start: day(2026, 3, 14), End: day(2026, 3, 14)}
	result := engine.SyncTenant(context.Background(), "t-1", types.ProviderSearch, r, RunOptions{})

	if result.Status != types.RunStatusSkipped {
		t.Fatalf("expected skipped, got %s", result.Status)
	}
	if result.SkipReason != types.SkipReasonEmptyResult {
		t.Errorf("expected empty_result, got %s", result.SkipReason)
	}
}

func TestEngine_NoCredentialSkips(t *testing.T) {
	adapter := &mockAdapter{provider: types.ProviderSearch}
	tokens := &mockTokens{err: types.NewAppError(types.ErrCodeCredentialNotFound, "none", nil)}
	engine := newTestEngine(adapter, tokens, storedBinding("sc-domain:example.com"))

	r := types.DateRange{Start: day(2026, 3, 14), End: day(2026, 3, 14)}
	result := engine.SyncTenant(context.Background(), "t-1", types.ProviderSearch, r, RunOptions{})

	if result.Status != types.RunStatusSkipped || result.SkipReason != types.SkipReasonNoCredential {
		t.Fatalf("expected skipped/no_credential, got %s/%s", result.Status, result.SkipReason)
	}
	if len(adapter.granularCalls) != 0 {
		t.Error("no chunk may run without a token")
	}
}

func TestEngine_InvalidCredentialSkips(t *testing.T) {
	adapter := &mockAdapter{provider: types.ProviderSearch}
	tokens := &mockTokens{err: types.NewAppError(types.ErrCodeCredentialInvalid, "invalid_grant", nil)}
	engine := newTestEngine(adapter, tokens, storedBinding("sc-domain:example.com"))

	r := types.DateRange{Start: day(2026, 3, 14), End: day(2026, 3, 14)}
	result := engine.SyncTenant(context.Background(), "t-1", types.ProviderSearch, r, RunOptions{})

	if result.Status != types.RunStatusSkipped || result.SkipReason != types.SkipReasonCredentialInvalid {
		t.Fatalf("expected skipped/credential_invalid, got %s/%s", result.Status, result.SkipReason)
	}
}

func TestEngine_TransientTokenFailureIsPartial(t *testing.T) {
	adapter := &mockAdapter{provider: types.ProviderSearch}
	tokens := &mockTokens{err: types.NewAppError(types.ErrCodeUpstreamTransient, "token endpoint 503", nil)}
	engine := newTestEngine(adapter, tokens, storedBinding("sc-domain:example.com"))

	r := types.DateRange{Start: day(2026, 3, 14), End: day(2026, 3, 14)}
	result := engine.SyncTenant(context.Background(), "t-1", types.ProviderSearch, r, RunOptions{})

	if result.Status != types.RunStatusPartial {
		t.Fatalf("expected partial, got %s", result.Status)
	}
	if result.SkipReason != "" {
		t.Errorf("transient failure is not a skip, got reason %s", result.SkipReason)
	}
}

func TestEngine_CredentialDeathMidRunAborts(t *testing.T) {
	adapter := &mockAdapter{
		provider: types.ProviderSearch,
		granularResults: []chunkResult{
			{err: types.NewAppError(types.ErrCodeCredentialInvalid, "revoked", nil)},
			{fetched: 10, written: 10}, // must never be reached
		},
		aggregateResults: []chunkResult{{fetched: 1, written: 1}},
	}
	engine := newTestEngine(adapter, &mockTokens{token: "tok"}, storedBinding("sc-domain:example.com"))

	r := types.DateRange{Start: day(2026, 3, 1), End: day(2026, 3, 6)}
	result := engine.SyncTenant(context.Background(), "t-1", types.ProviderSearch, r, RunOptions{})

	if len(adapter.granularCalls) != 1 {
		t.Errorf("expected run to abort after credential death, got %d granular calls", len(adapter.granularCalls))
	}
	if len(adapter.aggregateCalls) != 0 {
		t.Errorf("aggregate pass must not run on a dead credential")
	}
	if result.Status != types.RunStatusSkipped || result.SkipReason != types.SkipReasonCredentialInvalid {
		t.Fatalf("expected skipped/credential_invalid, got %s/%s", result.Status, result.SkipReason)
	}
}

func TestEngine_DiscoversAndPersistsBinding(t *testing.T) {
	adapter := &mockAdapter{
		provider:         types.ProviderSearch,
		externalID:       "sc-domain:discovered.example",
		granularResults:  []chunkResult{{fetched: 5, written: 5}},
		aggregateResults: []chunkResult{{fetched: 1, written: 1}},
	}
	bindings := &mockBindings{}
	engine := newTestEngine(adapter, &mockTokens{token: "tok"}, bindings)

	r := types.DateRange{Start: day(2026, 3, 14), End: day(2026, 3, 14)}
	result := engine.SyncTenant(context.Background(), "t-1", types.ProviderSearch, r, RunOptions{})

	if result.Status != types.RunStatusComplete {
		t.Fatalf("expected complete, got %s (last_err=%s)", result.Status, result.LastErr)
	}
	if adapter.resolveCalls != 1 {
		t.Errorf("expected one discovery call, got %d", adapter.resolveCalls)
	}
	if len(bindings.created) != 1 || bindings.created[0].ExternalID != "sc-domain:discovered.example" {
		t.Fatalf("discovered binding was not persisted: %+v", bindings.created)
	}
	if adapter.granularCalls[0].ExternalID != "sc-domain:discovered.example" {
		t.Errorf("chunks did not use the discovered binding")
	}
}

func TestEngine_NoBindingSkips(t *testing.T) {
	adapter := &mockAdapter{
		provider:   types.ProviderSearch,
		resolveErr: types.NewAppError(types.ErrCodeBindingNotFound, "no sites", nil),
	}
	engine := newTestEngine(adapter, &mockTokens{token: "tok"}, &mockBindings{})

	r := types.DateRange{Start: day(2026, 3, 14), End: day(2026, 3, 14)}
	result := engine.SyncTenant(context.Background(), "t-1", types.ProviderSearch, r, RunOptions{})

	if result.Status != types.RunStatusSkipped || result.SkipReason != types.SkipReasonNoBinding {
		t.Fatalf("expected skipped/no_binding, got %s/%s", result.Status, result.SkipReason)
	}
}

func TestEngine_DryRunAndChunkOverridesReachAdapter(t *testing.T) {
	adapter := &mockAdapter{
		provider:         types.ProviderSearch,
		granularResults:  []chunkResult{{fetched: 40}, {fetched: 40}, {fetched: 40}},
		aggregateResults: []chunkResult{{fetched: 6}},
	}
	engine := newTestEngine(adapter, &mockTokens{token: "tok"}, storedBinding("sc-domain:example.com"))

	// Six days with an override of 2 granular chunk days: three chunks.
	r := types.DateRange{Start: day(2026, 3, 1), End: day(2026, 3, 6)}
	result := engine.SyncTenant(context.Background(), "t-1", types.ProviderSearch, r, RunOptions{
		DryRun:            true,
		GranularChunkDays: 2,
	})

	if len(adapter.granularCalls) != 3 {
		t.Fatalf("expected 3 granular chunks with override, got %d", len(adapter.granularCalls))
	}
	for i, p := range adapter.granularCalls {
		if !p.DryRun {
			t.Errorf("chunk %d did not carry the dry-run flag", i)
		}
	}
	if result.GranularWritten != 0 || result.AggregateWritten != 0 {
		t.Errorf("dry run must write nothing, got %d/%d",
			result.GranularWritten, result.AggregateWritten)
	}
	if result.Status != types.RunStatusComplete {
		t.Errorf("expected complete dry run, got %s", result.Status)
	}
}

// keyedSearchStore upserts on the fact tables' composite keys so re-runs can
// be checked for duplicates and stale metric values.
type searchFactKey struct {
	tenantID string
	date     time.Time
	page     string
	query    string
	country  string
	device   string
}

type searchTotalKey struct {
	tenantID string
	siteURL  string
	date     time.Time
}

type keyedSearchStore struct {
	facts  map[searchFactKey]types.SearchFact
	totals map[searchTotalKey]types.SearchFactTotal
}

func newKeyedSearchStore() *keyedSearchStore {
	return &keyedSearchStore{
		facts:  make(map[searchFactKey]types.SearchFact),
		totals: make(map[searchTotalKey]types.SearchFactTotal),
	}
}

func (s *keyedSearchStore) UpsertFacts(_ context.Context, facts []types.SearchFact) (int, error) {
	for _, f := range facts {
		s.facts[searchFactKey{f.TenantID, f.Date, f.Page, f.Query, f.Country, f.Device}] = f
	}
	return len(facts), nil
}

func (s *keyedSearchStore) UpsertTotals(_ context.Context, totals []types.SearchFactTotal) (int, error) {
	for _, tot := range totals {
		s.totals[searchTotalKey{tot.TenantID, tot.SiteURL, tot.Date}] = tot
	}
	return len(totals), nil
}

func TestEngine_RerunOverwritesWithoutDuplicates(t *testing.T) {
	date := day(2026, 3, 14)
	rowsWithClicks := func(clicks int64) []types.SearchFact {
		var facts []types.SearchFact
		for _, page := range []string{"/a", "/b", "/c"} {
			facts = append(facts, types.SearchFact{
				TenantID: "t-1",
				Date:     date,
				Page:     page,
				Query:    "widgets",
				Country:  "usa",
				Device:   "MOBILE",
				Clicks:   clicks,
			})
		}
		return facts
	}
	totalWithClicks := func(clicks int64) []types.SearchFactTotal {
		return []types.SearchFactTotal{{
			TenantID: "t-1",
			SiteURL:  "sc-domain:example.com",
			Date:     date,
			Clicks:   clicks,
		}}
	}

	api := &fakeSearchAPI{facts: rowsWithClicks(10), totals: totalWithClicks(100)}
	store := newKeyedSearchStore()
	adapter := NewSearchAdapter(SearchAdapterConfig{API: api, Store: store, Logger: testLogger()})
	engine := NewEngine(EngineConfig{
		Tokens:             &mockTokens{token: "tok"},
		Bindings:           storedBinding("sc-domain:example.com"),
		Adapters:           []ProviderAdapter{adapter},
		GranularChunkDays:  3,
		AggregateChunkDays: 30,
		PageSize:           1000,
		Logger:             testLogger(),
	})

	r := types.DateRange{Start: date, End: date}
	first := engine.SyncTenant(context.Background(), "t-1", types.ProviderSearch, r, RunOptions{})
	if first.Status != types.RunStatusComplete {
		t.Fatalf("first run: expected complete, got %s (last_err=%s)", first.Status, first.LastErr)
	}

	// The provider restates the same keys with corrected metric values.
	api.facts = rowsWithClicks(25)
	api.totals = totalWithClicks(250)

	second := engine.SyncTenant(context.Background(), "t-1", types.ProviderSearch, r, RunOptions{})
	if second.Status != types.RunStatusComplete {
		t.Fatalf("second run: expected complete, got %s (last_err=%s)", second.Status, second.LastErr)
	}

	if len(store.facts) != 3 {
		t.Fatalf("expected 3 unique granular rows after re-run, got %d", len(store.facts))
	}
	for key, fact := range store.facts {
		if fact.Clicks != 25 {
			t.Errorf("row %v kept stale clicks %d, want 25", key, fact.Clicks)
		}
	}
	if len(store.totals) != 1 {
		t.Fatalf("expected 1 aggregate row after re-run, got %d", len(store.totals))
	}
	for _, tot := range store.totals {
		if tot.Clicks != 250 {
			t.Errorf("aggregate row kept stale clicks %d, want 250", tot.Clicks)
		}
	}
	if second.GranularWritten != 3 || second.AggregateWritten != 1 {
		t.Errorf("second run wrote %d/%d rows, want 3/1",
			second.GranularWritten, second.AggregateWritten)
	}
}
