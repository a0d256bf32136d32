package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"searchpulse/internal/types"
)

const defaultSearchConsoleBaseURL = "https://www.googleapis.com/webmasters/v3"

// Dimension sentinel for rows where the provider omits a dimension value.
const dimensionAll = "all"

// SiteEntry is a site the authorized user can query in the search
// reporting API.
type SiteEntry struct {
	SiteURL         string `json:"siteUrl"`
	PermissionLevel string `json:"permissionLevel"`
}

// SearchConsoleClientConfig configures the search reporting client.
type SearchConsoleClientConfig struct {
	BaseURL     string // defaults to the production API; overridable for tests
	HTTPTimeout time.Duration
	Logger      *slog.Logger
	Archiver    RawArchiver // optional; best-effort raw payload archival
}

// SearchConsoleClient queries the search performance reporting API. It owns
// the wire format: ordered dimension-key arrays are zipped into typed domain
// rows before they leave this package.
type SearchConsoleClient struct {
	base     *BaseClient
	baseURL  string
	logger   *slog.Logger
	archiver RawArchiver
}

// NewSearchConsoleClient creates a client for the search reporting API.
func NewSearchConsoleClient(cfg SearchConsoleClientConfig, opts ...BaseClientOption) *SearchConsoleClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultSearchConsoleBaseURL
	}
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &SearchConsoleClient{
		base: NewBaseClient(
			&http.Client{Timeout: timeout},
			"search-console",
			DefaultRetryPolicy(),
			"searchpulse/1.0",
			opts...,
		),
		baseURL:  baseURL,
		logger:   logger,
		archiver: cfg.Archiver,
	}
}

type listSitesResponse struct {
	SiteEntry []SiteEntry `json:"siteEntry"`
}

// ListSites returns the sites the access token can query.
func (c *SearchConsoleClient) ListSites(ctx context.Context, accessToken types.SecretString) ([]SiteEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sites", nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build list sites request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken.Unmask())

	body, err := c.doJSON(ctx, req)
	if err != nil {
		return nil, err
	}

	var out listSitesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamTransient, "failed to decode site list", err)
	}
	return out.SiteEntry, nil
}

type searchAnalyticsRequest struct {
	StartDate  string   `json:"startDate"`
	EndDate    string   `json:"endDate"`
	Dimensions []string `json:"dimensions,omitempty"`
	RowLimit   int      `json:"rowLimit"`
	StartRow   int      `json:"startRow"`
}

type searchAnalyticsRow struct {
	Keys        []string `json:"keys"`
	Clicks      float64  `json:"clicks"`
	Impressions float64  `json:"impressions"`
	CTR         float64  `json:"ctr"`
	Position    float64  `json:"position"`
}

type searchAnalyticsResponse struct {
	Rows []searchAnalyticsRow `json:"rows"`
}

// granularDims is the fixed dimension order for the granular pass. Row keys
// come back in the same order they were requested.
var granularDims = []string{"date", "page", "query", "country", "device"}

// QueryGranular fetches one page of fully dimensioned search rows. Offset
// pagination is the caller's concern; this method fetches exactly the page
// identified by startRow/rowLimit.
func (c *SearchConsoleClient) QueryGranular(
	ctx context.Context,
	accessToken types.SecretString,
	tenantID, siteURL string,
	r types.DateRange,
	startRow, rowLimit int,
) ([]types.SearchFact, error) {
	wire, err := c.query(ctx, accessToken, tenantID, siteURL, r, searchAnalyticsRequest{
		StartDate:  r.Start.Format(types.DateLayout),
		EndDate:    r.End.Format(types.DateLayout),
		Dimensions: granularDims,
		RowLimit:   rowLimit,
		StartRow:   startRow,
	})
	if err != nil {
		return nil, err
	}

	facts := make([]types.SearchFact, 0, len(wire))
	for _, row := range wire {
		date, err := parseRowDate(keyAt(row.Keys, 0))
		if err != nil {
			c.logger.WarnContext(ctx, "skipping search row with unparseable date",
				"tenant_id", tenantID,
				"raw_date", keyAt(row.Keys, 0),
			)
			continue
		}
		facts = append(facts, types.SearchFact{
			TenantID:    tenantID,
			Date:        date,
			Page:        keyOrAll(row.Keys, 1),
			Query:       keyOrAll(row.Keys, 2),
			Country:     keyOrAll(row.Keys, 3),
			Device:      keyOrAll(row.Keys, 4),
			Clicks:      int64(row.Clicks),
			Impressions: int64(row.Impressions),
			CTR:         row.CTR,
			Position:    row.Position,
		})
	}
	return facts, nil
}

// QueryAggregate fetches one page of date-only totals for the site. The
// aggregate pass never derives from granular rows: the provider samples
// heavily dimensioned reports, so per-day totals must come from a separate
// date-only query.
func (c *SearchConsoleClient) QueryAggregate(
	ctx context.Context,
	accessToken types.SecretString,
	tenantID, siteURL string,
	r types.DateRange,
	startRow, rowLimit int,
) ([]types.SearchFactTotal, error) {
	wire, err := c.query(ctx, accessToken, tenantID, siteURL, r, searchAnalyticsRequest{
		StartDate:  r.Start.Format(types.DateLayout),
		EndDate:    r.End.Format(types.DateLayout),
		Dimensions: []string{"date"},
		RowLimit:   rowLimit,
		StartRow:   startRow,
	})
	if err != nil {
		return nil, err
	}

	totals := make([]types.SearchFactTotal, 0, len(wire))
	for _, row := range wire {
		date, err := parseRowDate(keyAt(row.Keys, 0))
		if err != nil {
			c.logger.WarnContext(ctx, "skipping search total row with unparseable date",
				"tenant_id", tenantID,
				"raw_date", keyAt(row.Keys, 0),
			)
			continue
		}
		totals = append(totals, types.SearchFactTotal{
			TenantID:    tenantID,
			SiteURL:     siteURL,
			Date:        date,
			Clicks:      int64(row.Clicks),
			Impressions: int64(row.Impressions),
			CTR:         row.CTR,
			Position:    row.Position,
		})
	}
	return totals, nil
}

func (c *SearchConsoleClient) query(
	ctx context.Context,
	accessToken types.SecretString,
	tenantID, siteURL string,
	r types.DateRange,
	q searchAnalyticsRequest,
) ([]searchAnalyticsRow, error) {
	payload, err := json.Marshal(q)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode search query", err)
	}

	endpoint := fmt.Sprintf("%s/sites/%s/searchAnalytics/query", c.baseURL, url.PathEscape(siteURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build search query request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken.Unmask())
	req.Header.Set("Content-Type", "application/json")

	body, err := c.doJSON(ctx, req)
	if err != nil {
		return nil, err
	}

	if c.archiver != nil {
		c.archiver.Archive(ctx, types.ProviderSearch, tenantID, r, body)
	}

	var out searchAnalyticsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamTransient, "failed to decode search query response", err)
	}
	return out.Rows, nil
}

// doJSON executes the request through the BaseClient and handles status
// classification shared by both reporting clients. 401/403 mean the access
// token is no longer honored and the credential needs re-authorization.
func (c *SearchConsoleClient) doJSON(ctx context.Context, req *http.Request) ([]byte, error) {
	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamTransient, "failed to read response body", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.logger.WarnContext(ctx, "reporting API rejected access token",
			"status", resp.StatusCode,
			"body", truncateBody(body),
		)
		return nil, types.NewAppError(
			types.ErrCodeCredentialInvalid,
			fmt.Sprintf("reporting API returned %d", resp.StatusCode),
			nil,
		).WithDetails(map[string]any{"status": resp.StatusCode})
	default:
		return nil, types.NewAppError(
			types.ErrCodeUpstreamTransient,
			fmt.Sprintf("reporting API returned %d", resp.StatusCode),
			nil,
		).WithDetails(map[string]any{"status": resp.StatusCode, "body": truncateBody(body)})
	}
}

func keyAt(keys []string, i int) string {
	if i < len(keys) {
		return keys[i]
	}
	return ""
}

// keyOrAll maps a missing dimension key to the "all" sentinel so that the
// fact table's uniqueness constraint holds for partially dimensioned rows.
func keyOrAll(keys []string, i int) string {
	if v := keyAt(keys, i); v != "" {
		return v
	}
	return dimensionAll
}

func parseRowDate(raw string) (time.Time, error) {
	t, err := time.Parse(types.DateLayout, raw)
	if err != nil {
		return time.Time{}, err
	}
	return types.Date(t), nil
}
