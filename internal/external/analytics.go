package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"searchpulse/internal/types"
)

const (
	defaultAnalyticsDataBaseURL  = "https://analyticsdata.googleapis.com/v1beta"
	defaultAnalyticsAdminBaseURL = "https://analyticsadmin.googleapis.com/v1beta"

	// The data API emits date dimension values without separators.
	analyticsDateLayout = "20060102"
)

// PropertySummary is an analytics property the authorized user can report on.
type PropertySummary struct {
	Property    string `json:"property"` // resource name, "properties/<id>"
	DisplayName string `json:"displayName"`
}

// AnalyticsClientConfig configures the web-analytics reporting client.
type AnalyticsClientConfig struct {
	DataBaseURL  string // defaults to the production data API
	AdminBaseURL string // defaults to the production admin API
	HTTPTimeout  time.Duration
	Logger       *slog.Logger
	Archiver     RawArchiver
}

// AnalyticsClient queries the web-analytics reporting API. Reports come back
// as parallel dimensionValues/metricValues arrays ordered the same way the
// request listed them; this client zips them into typed domain rows.
type AnalyticsClient struct {
	base         *BaseClient
	dataBaseURL  string
	adminBaseURL string
	logger       *slog.Logger
	archiver     RawArchiver
}

// NewAnalyticsClient creates a client for the web-analytics reporting API.
func NewAnalyticsClient(cfg AnalyticsClientConfig, opts ...BaseClientOption) *AnalyticsClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dataURL := cfg.DataBaseURL
	if dataURL == "" {
		dataURL = defaultAnalyticsDataBaseURL
	}
	adminURL := cfg.AdminBaseURL
	if adminURL == "" {
		adminURL = defaultAnalyticsAdminBaseURL
	}
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &AnalyticsClient{
		base: NewBaseClient(
			&http.Client{Timeout: timeout},
			"web-analytics",
			DefaultRetryPolicy(),
			"searchpulse/1.0",
			opts...,
		),
		dataBaseURL:  dataURL,
		adminBaseURL: adminURL,
		logger:       logger,
		archiver:     cfg.Archiver,
	}
}

type accountSummariesResponse struct {
	AccountSummaries []struct {
		PropertySummaries []PropertySummary `json:"propertySummaries"`
	} `json:"accountSummaries"`
	NextPageToken string `json:"nextPageToken"`
}

// maxAccountPages caps the account summaries pagination loop. A provider
// that keeps returning the same nextPageToken must not spin forever.
const maxAccountPages = 50

// ListProperties returns the analytics properties visible to the access
// token, flattened across accounts.
func (c *AnalyticsClient) ListProperties(ctx context.Context, accessToken types.SecretString) ([]PropertySummary, error) {
	var out []PropertySummary
	pageToken := ""

	for fetched := 0; fetched < maxAccountPages; fetched++ {
		endpoint := c.adminBaseURL + "/accountSummaries"
		if pageToken != "" {
			endpoint += "?pageToken=" + pageToken
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build account summaries request", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken.Unmask())

		body, err := c.doJSON(ctx, req)
		if err != nil {
			return nil, err
		}

		var page accountSummariesResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamTransient, "failed to decode account summaries", err)
		}
		for _, acct := range page.AccountSummaries {
			out = append(out, acct.PropertySummaries...)
		}

		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}

	c.logger.WarnContext(ctx, "account listing hit page cap; returning partial property list",
		"pages", maxAccountPages,
		"properties", len(out),
	)
	return out, nil
}

type runReportRequest struct {
	DateRanges []reportDateRange `json:"dateRanges"`
	Dimensions []reportName      `json:"dimensions"`
	Metrics    []reportName      `json:"metrics"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
}

type reportDateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type reportName struct {
	Name string `json:"name"`
}

type reportValue struct {
	Value string `json:"value"`
}

type runReportRow struct {
	DimensionValues []reportValue `json:"dimensionValues"`
	MetricValues    []reportValue `json:"metricValues"`
}

type runReportResponse struct {
	Rows     []runReportRow `json:"rows"`
	RowCount int            `json:"rowCount"`
}

var (
	trafficGranularDims = []reportName{
		{Name: "date"}, {Name: "sessionSource"}, {Name: "sessionMedium"}, {Name: "deviceCategory"},
	}
	trafficAggregateDims = []reportName{{Name: "date"}}
	trafficMetrics       = []reportName{
		{Name: "sessions"}, {Name: "totalUsers"}, {Name: "newUsers"}, {Name: "conversions"}, {Name: "totalRevenue"},
	}
)

// QueryGranular fetches one page of source/medium/device traffic rows.
func (c *AnalyticsClient) QueryGranular(
	ctx context.Context,
	accessToken types.SecretString,
	tenantID, propertyID string,
	r types.DateRange,
	offset, limit int,
) ([]types.TrafficFact, error) {
	wire, err := c.runReport(ctx, accessToken, tenantID, propertyID, r, runReportRequest{
		DateRanges: []reportDateRange{{
			StartDate: r.Start.Format(types.DateLayout),
			EndDate:   r.End.Format(types.DateLayout),
		}},
		Dimensions: trafficGranularDims,
		Metrics:    trafficMetrics,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return nil, err
	}

	facts := make([]types.TrafficFact, 0, len(wire))
	for _, row := range wire {
		date, err := parseAnalyticsDate(dimAt(row.DimensionValues, 0))
		if err != nil {
			c.logger.WarnContext(ctx, "skipping traffic row with unparseable date",
				"tenant_id", tenantID,
				"raw_date", dimAt(row.DimensionValues, 0),
			)
			continue
		}
		facts = append(facts, types.TrafficFact{
			TenantID:       tenantID,
			Date:           date,
			Source:         dimOrAll(row.DimensionValues, 1),
			Medium:         dimOrAll(row.DimensionValues, 2),
			DeviceCategory: dimOrAll(row.DimensionValues, 3),
			Sessions:       metricInt(row.MetricValues, 0),
			TotalUsers:     metricInt(row.MetricValues, 1),
			NewUsers:       metricInt(row.MetricValues, 2),
			Conversions:    metricInt(row.MetricValues, 3),
			Revenue:        metricFloat(row.MetricValues, 4),
		})
	}
	return facts, nil
}

// QueryAggregate fetches one page of date-only traffic totals for the
// property. Granular rows cannot be summed into these: user counts are
// deduplicated per day by the provider, so the totals come from their own
// query.
func (c *AnalyticsClient) QueryAggregate(
	ctx context.Context,
	accessToken types.SecretString,
	tenantID, propertyID string,
	r types.DateRange,
	offset, limit int,
) ([]types.TrafficFactTotal, error) {
	wire, err := c.runReport(ctx, accessToken, tenantID, propertyID, r, runReportRequest{
		DateRanges: []reportDateRange{{
			StartDate: r.Start.Format(types.DateLayout),
			EndDate:   r.End.Format(types.DateLayout),
		}},
		Dimensions: trafficAggregateDims,
		Metrics:    trafficMetrics,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return nil, err
	}

	totals := make([]types.TrafficFactTotal, 0, len(wire))
	for _, row := range wire {
		date, err := parseAnalyticsDate(dimAt(row.DimensionValues, 0))
		if err != nil {
			c.logger.WarnContext(ctx, "skipping traffic total row with unparseable date",
				"tenant_id", tenantID,
				"raw_date", dimAt(row.DimensionValues, 0),
			)
			continue
		}
		totals = append(totals, types.TrafficFactTotal{
			TenantID:    tenantID,
			PropertyID:  propertyID,
			Date:        date,
			Sessions:    metricInt(row.MetricValues, 0),
			TotalUsers:  metricInt(row.MetricValues, 1),
			NewUsers:    metricInt(row.MetricValues, 2),
			Conversions: metricInt(row.MetricValues, 3),
			Revenue:     metricFloat(row.MetricValues, 4),
		})
	}
	return totals, nil
}

func (c *AnalyticsClient) runReport(
	ctx context.Context,
	accessToken types.SecretString,
	tenantID, propertyID string,
	r types.DateRange,
	reportReq runReportRequest,
) ([]runReportRow, error) {
	payload, err := json.Marshal(reportReq)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode report request", err)
	}

	endpoint := fmt.Sprintf("%s/properties/%s:runReport", c.dataBaseURL, propertyID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build report request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken.Unmask())
	req.Header.Set("Content-Type", "application/json")

	body, err := c.doJSON(ctx, req)
	if err != nil {
		return nil, err
	}

	if c.archiver != nil {
		c.archiver.Archive(ctx, types.ProviderTraffic, tenantID, r, body)
	}

	var out runReportResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamTransient, "failed to decode report response", err)
	}
	return out.Rows, nil
}

// doJSON mirrors the search client's status classification. The two vendor
// APIs share authorization behavior, so 401/403 map to credential_invalid in
// both places.
func (c *AnalyticsClient) doJSON(ctx context.Context, req *http.Request) ([]byte, error) {
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

func dimAt(vals []reportValue, i int) string {
	if i < len(vals) {
		return vals[i].Value
	}
	return ""
}

// dimOrAll maps absent or "(not set)" dimension values to the "all" sentinel
// so that fact rows always carry complete keys.
func dimOrAll(vals []reportValue, i int) string {
	v := dimAt(vals, i)
	if v == "" || v == "(not set)" {
		return dimensionAll
	}
	return v
}

func metricInt(vals []reportValue, i int) int64 {
	if i >= len(vals) {
		return 0
	}
	n, err := strconv.ParseInt(vals[i].Value, 10, 64)
	if err != nil {
		// Some integer metrics arrive in float notation.
		if f, ferr := strconv.ParseFloat(vals[i].Value, 64); ferr == nil {
			return int64(f)
		}
		return 0
	}
	return n
}

func metricFloat(vals []reportValue, i int) float64 {
	if i >= len(vals) {
		return 0
	}
	f, err := strconv.ParseFloat(vals[i].Value, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseAnalyticsDate(raw string) (time.Time, error) {
	t, err := time.Parse(analyticsDateLayout, raw)
	if err != nil {
		return time.Time{}, err
	}
	return types.Date(t), nil
}
