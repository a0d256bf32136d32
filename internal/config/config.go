// Package config defines the global configuration structure for the
// searchpulse sync engine. Configuration is loaded once at process
// initialization (Lambda cold start) and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format causes the process to exit
// immediately on startup. No tenant can ever sync with a broken client
// configuration, so failing fast is the only safe behavior.
package config

import (
	"time"

	"searchpulse/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the sync engine.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"searchpulse"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Database DatabaseConfig
	Google   GoogleConfig
	Sync     SyncConfig
	AWS      AWSConfig
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// GoogleConfig holds the OAuth client credentials used for refresh-token
// exchanges against the provider token endpoint. These identify this
// application, not a tenant; without them no tenant can ever succeed, so
// they are required at startup.
type GoogleConfig struct {
	ClientID     string       `envconfig:"GOOGLE_CLIENT_ID" validate:"required"`
	ClientSecret SecretString `envconfig:"GOOGLE_CLIENT_SECRET" validate:"required"`
}

// SyncConfig holds the tunables of the synchronization engine.
type SyncConfig struct {
	// Timezone is the IANA zone in which "yesterday" is computed for the
	// daily trigger. Explicit configuration keeps scheduler behavior
	// reproducible in tests.
	Timezone string `envconfig:"SYNC_TIMEZONE" default:"UTC"`

	// GranularChunkDays bounds the date range of each fully-dimensioned
	// query; kept small because dimension breakdowns approach provider row
	// caps quickly.
	GranularChunkDays int `envconfig:"SYNC_GRANULAR_CHUNK_DAYS" default:"3" validate:"min=1,max=30"`

	// AggregateChunkDays bounds each date-only totals query; large, since
	// one row per day comes back.
	AggregateChunkDays int `envconfig:"SYNC_AGGREGATE_CHUNK_DAYS" default:"30" validate:"min=1,max=90"`

	// PageSize is the provider row limit per page request.
	PageSize int `envconfig:"SYNC_PAGE_SIZE" default:"5000" validate:"min=1,max=25000"`

	// Workers bounds tenant parallelism in one scheduler invocation.
	// The default of 1 matches the reference sequential behavior.
	Workers int `envconfig:"SYNC_WORKERS" default:"1" validate:"min=1,max=16"`

	// TokenRefreshBuffer is how long before expiry a token is considered
	// stale and refreshed preemptively.
	TokenRefreshBuffer time.Duration `envconfig:"SYNC_TOKEN_REFRESH_BUFFER" default:"5m"`

	// HTTPTimeout bounds every outbound provider call so a stuck call
	// cannot hang the whole run.
	HTTPTimeout time.Duration `envconfig:"SYNC_HTTP_TIMEOUT" default:"60s"`

	// TokenCipherKey is the 64-hex-char (32 byte) key for encrypting
	// stored OAuth tokens at rest.
	TokenCipherKey SecretString `envconfig:"TOKEN_CIPHER_KEY" validate:"required,len=64,hexadecimal"`

	// UpsertBatchSize bounds the row count of one upsert statement.
	UpsertBatchSize int `envconfig:"SYNC_UPSERT_BATCH_SIZE" default:"1000" validate:"min=1,max=5000"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// BackfillQueueURL is the SQS queue backfill requests are enqueued to.
	BackfillQueueURL string `envconfig:"SQS_BACKFILL_QUEUE" validate:"omitempty,url"`

	// RawArchiveBucket enables the raw-payload diagnostic archive when set.
	RawArchiveBucket string `envconfig:"RAW_ARCHIVE_BUCKET"`

	// MetricNamespace is the CloudWatch namespace for sync telemetry.
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"SearchPulse"`

	// EndpointURL supports LocalStack in development (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
