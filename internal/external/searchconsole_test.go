package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"searchpulse/internal/types"
)

func testRange() types.DateRange {
	return types.DateRange{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC),
	}
}

func newTestSearchClient(baseURL string, archiver RawArchiver) *SearchConsoleClient {
	return NewSearchConsoleClient(SearchConsoleClientConfig{
		BaseURL:  baseURL,
		Archiver: archiver,
	}, WithSleepFunc(noSleep))
}

func TestSearchConsoleClient_QueryGranular_MapsRows(t *testing.T) {
	var gotReq searchAnalyticsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sites/sc-domain:example.com/searchAnalytics/query", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		fmt.Fprint(w, `{"rows":[
			{"keys":["2026-01-02","/pricing","best widgets","usa","MOBILE"],"clicks":12,"impressions":340,"ctr":0.035,"position":4.2},
			{"keys":["2026-01-03"],"clicks":1,"impressions":9,"ctr":0.11,"position":8.0}
		]}`)
	}))
	defer server.Close()

	client := newTestSearchClient(server.URL, nil)
	facts, err := client.QueryGranular(context.Background(), "token-1", "t-1", "sc-domain:example.com", testRange(), 0, 5000)
	require.NoError(t, err)
	require.Len(t, facts, 2)

	assert.Equal(t, searchAnalyticsRequest{
		StartDate:  "2026-01-01",
		EndDate:    "2026-01-07",
		Dimensions: []string{"date", "page", "query", "country", "device"},
		RowLimit:   5000,
		StartRow:   0,
	}, gotReq)

	full := facts[0]
	assert.Equal(t, "t-1", full.TenantID)
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), full.Date)
	assert.Equal(t, "/pricing", full.Page)
	assert.Equal(t, "best widgets", full.Query)
	assert.Equal(t, int64(12), full.Clicks)
	assert.Equal(t, int64(340), full.Impressions)
	assert.InDelta(t, 0.035, full.CTR, 1e-9)
	assert.InDelta(t, 4.2, full.Position, 1e-9)

	short := facts[1]
	assert.Equal(t, "all", short.Page)
	assert.Equal(t, "all", short.Query)
	assert.Equal(t, "all", short.Country)
	assert.Equal(t, "all", short.Device)
}

func TestSearchConsoleClient_QueryGranular_SkipsUnparseableDates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"rows":[
			{"keys":["not-a-date","/a","q","usa","DESKTOP"],"clicks":1,"impressions":1},
			{"keys":["2026-01-04","/b","q","usa","DESKTOP"],"clicks":2,"impressions":2}
		]}`)
	}))
	defer server.Close()

	facts, err := newTestSearchClient(server.URL, nil).QueryGranular(context.Background(), "tok", "t-1", "site", testRange(), 0, 100)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "/b", facts[0].Page)
}

func TestSearchConsoleClient_QueryAggregate_MapsTotals(t *testing.T) {
	var gotReq searchAnalyticsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, `{"rows":[{"keys":["2026-01-05"],"clicks":200,"impressions":5000,"ctr":0.04,"position":3.1}]}`)
	}))
	defer server.Close()

	totals, err := newTestSearchClient(server.URL, nil).QueryAggregate(context.Background(), "tok", "t-1", "https://example.com/", testRange(), 0, 100)
	require.NoError(t, err)
	require.Len(t, totals, 1)

	assert.Equal(t, []string{"date"}, gotReq.Dimensions)
	assert.Equal(t, "https://example.com/", totals[0].SiteURL)
	assert.Equal(t, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), totals[0].Date)
	assert.Equal(t, int64(200), totals[0].Clicks)
}

func TestSearchConsoleClient_ListSites(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sites", r.URL.Path)
		fmt.Fprint(w, `{"siteEntry":[
			{"siteUrl":"sc-domain:example.com","permissionLevel":"siteOwner"},
			{"siteUrl":"https://example.com/","permissionLevel":"siteFullUser"}
		]}`)
	}))
	defer server.Close()

	sites, err := newTestSearchClient(server.URL, nil).ListSites(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, "sc-domain:example.com", sites[0].SiteURL)
	assert.Equal(t, "siteOwner", sites[0].PermissionLevel)
}

func TestSearchConsoleClient_RevokedTokenIsCredentialInvalid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"The caller does not have permission"}}`)
	}))
	defer server.Close()

	_, err := newTestSearchClient(server.URL, nil).QueryGranular(context.Background(), "tok", "t-1", "site", testRange(), 0, 100)
	require.Error(t, err)
	assert.True(t, types.IsCredentialInvalid(err))
}

type recordingArchiver struct {
	provider types.Provider
	tenantID string
	r        types.DateRange
	payload  []byte
	calls    int
}

func (a *recordingArchiver) Archive(_ context.Context, provider types.Provider, tenantID string, r types.DateRange, payload []byte) {
	a.provider = provider
	a.tenantID = tenantID
	a.r = r
	a.payload = append([]byte(nil), payload...)
	a.calls++
}

func TestSearchConsoleClient_ArchivesRawResponse(t *testing.T) {
	raw := `{"rows":[{"keys":["2026-01-02"],"clicks":1,"impressions":1}]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, raw)
	}))
	defer server.Close()

	archiver := &recordingArchiver{}
	_, err := newTestSearchClient(server.URL, archiver).QueryAggregate(context.Background(), "tok", "t-1", "site", testRange(), 0, 100)
	require.NoError(t, err)

	assert.Equal(t, 1, archiver.calls)
	assert.Equal(t, types.ProviderSearch, archiver.provider)
	assert.Equal(t, "t-1", archiver.tenantID)
	assert.Equal(t, testRange(), archiver.r)
	assert.JSONEq(t, raw, string(archiver.payload))
}
