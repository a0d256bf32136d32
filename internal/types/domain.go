package types

import (
	"time"
)

// DateLayout is the wire format for calendar dates exchanged with the
// reporting APIs and used in fact table keys.
const DateLayout = "2006-01-02"

// Date truncates t to midnight UTC. Fact rows and chunk boundaries are
// keyed on calendar dates, never on instants.
func Date(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DateRange is an inclusive calendar interval [Start, End]. Both bounds are
// midnight-UTC dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of calendar days covered by the range, inclusive.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// String renders the range as "2026-01-01..2026-01-07" for logs.
func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

// Credential is the persisted OAuth credential for one (tenant, provider)
// pair. At most one live credential exists per pair. Token fields hold
// plaintext values in memory; the repository encrypts them at rest.
type Credential struct {
	ID           string
	TenantID     string
	Provider     Provider
	AccessToken  SecretString
	RefreshToken SecretString
	TokenType    string
	Scope        string
	AccountEmail string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TokenSet is the normalized result of a refresh-token exchange.
// RefreshToken is empty when the provider did not rotate it.
type TokenSet struct {
	AccessToken  SecretString
	RefreshToken SecretString
	TokenType    string
	Scope        string
	ExpiresAt    time.Time
}

// Binding maps a tenant to the provider-side resource its metrics are
// fetched from: a site URL for the search provider, a property ID for the
// traffic provider. Immutable once created.
type Binding struct {
	TenantID   string
	Provider   Provider
	ExternalID string
	CreatedAt  time.Time
}

// SearchFact is one fully-dimensioned search metrics row. The composite key
// (TenantID, Date, Page, Query, Country, Device) is unique; metric columns
// are overwritten, never summed, on re-ingestion.
type SearchFact struct {
	TenantID    string
	Date        time.Time
	Page        string
	Query       string
	Country     string
	Device      string
	Clicks      int64
	Impressions int64
	CTR         float64
	Position    float64
}

// SearchFactTotal is one date-only aggregate row fetched with a single date
// dimension. It is the authoritative total matching the provider's own
// dashboard; summing SearchFact rows for the same date is NOT guaranteed to
// reproduce it.
type SearchFactTotal struct {
	TenantID    string
	SiteURL     string
	Date        time.Time
	Clicks      int64
	Impressions int64
	CTR         float64
	Position    float64
}

// TrafficFact is one fully-dimensioned analytics metrics row keyed on
// (TenantID, Date, Source, Medium, DeviceCategory).
type TrafficFact struct {
	TenantID       string
	Date           time.Time
	Source         string
	Medium         string
	DeviceCategory string
	Sessions       int64
	TotalUsers     int64
	NewUsers       int64
	Conversions    int64
	Revenue        float64
}

// TrafficFactTotal is the date-only aggregate counterpart of TrafficFact.
type TrafficFactTotal struct {
	TenantID    string
	PropertyID  string
	Date        time.Time
	Sessions    int64
	TotalUsers  int64
	NewUsers    int64
	Conversions int64
	Revenue     float64
}

// TenantRunResult is the per-tenant outcome record produced at the run
// boundary. Every component error is converted into this record; nothing
// escapes the scheduler as an exception.
type TenantRunResult struct {
	RunID    string
	TenantID string
	Provider Provider
	Range    DateRange
	Status   RunStatus

	GranularFetched  int
	GranularWritten  int
	AggregateFetched int
	AggregateWritten int
	ChunksFailed     int

	SkipReason SkipReason
	LastErr    string

	StartedAt  time.Time
	FinishedAt time.Time
}

// RunSummary aggregates the tenant results of one scheduler invocation.
type RunSummary struct {
	Provider  Provider
	Range     DateRange
	Tenants   int
	Complete  int
	Partial   int
	Skipped   int
	Results   []*TenantRunResult
	StartedAt time.Time
	Duration  time.Duration
}

// BackfillRequest describes a manual historical ingestion run. It is both
// the CLI argument set and the SQS message body for queued backfills.
type BackfillRequest struct {
	TraceID   string   `json:"trace_id"`
	TenantID  string   `json:"tenant_id"`
	Provider  Provider `json:"provider"`
	StartDate string   `json:"start_date"` // inclusive, YYYY-MM-DD
	EndDate   string   `json:"end_date"`   // inclusive, YYYY-MM-DD
	ChunkDays int      `json:"chunk_days,omitempty"`
	DryRun    bool     `json:"dry_run,omitempty"`
}
