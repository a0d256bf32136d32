// Package main is the entrypoint for the backfill worker Lambda function.
//
// The worker consumes backfill requests from SQS and runs historical syncs
// for single tenants. Messages that fail validation are dropped (a retry
// cannot fix a malformed request); messages that fail transiently are
// reported as batch item failures so SQS redelivers them. Idempotent upserts
// make redelivery safe.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"

	"searchpulse/internal/archive"
	"searchpulse/internal/config"
	"searchpulse/internal/crypto"
	"searchpulse/internal/db"
	"searchpulse/internal/external"
	"searchpulse/internal/metrics"
	"searchpulse/internal/scheduler"
	syncpkg "searchpulse/internal/sync"
	"searchpulse/internal/types"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("backfill-worker initializing (cold start)")

	cfg, err := config.Load(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger = newLogger(cfg.LogLevel)

	ctx := context.Background()

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to initialize database pool", "error", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	runner, err := buildBackfillRunner(cfg, pool, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build backfill runner", "error", err)
		os.Exit(1)
	}

	logger.Info("backfill-worker initialized", "environment", cfg.Environment)

	lambda.Start(newHandler(runner, logger))
}

func newHandler(runner *scheduler.BackfillRunner, logger *slog.Logger) func(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	return func(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
		var failures []events.SQSBatchItemFailure

		for _, msg := range event.Records {
			var req types.BackfillRequest
			if err := json.Unmarshal([]byte(msg.Body), &req); err != nil {
				logger.ErrorContext(ctx, "dropping malformed backfill message",
					"message_id", msg.MessageId,
					"error", err,
				)
				continue
			}

			result, err := runner.Run(ctx, req)
			if err != nil {
				if isValidationError(err) {
					logger.ErrorContext(ctx, "dropping invalid backfill request",
						"message_id", msg.MessageId,
						"trace_id", req.TraceID,
						"error", err,
					)
					continue
				}
				logger.ErrorContext(ctx, "backfill failed; message will be redelivered",
					"message_id", msg.MessageId,
					"trace_id", req.TraceID,
					"error", err,
				)
				failures = append(failures, events.SQSBatchItemFailure{
					ItemIdentifier: msg.MessageId,
				})
				continue
			}

			logger.InfoContext(ctx, "backfill processed",
				"message_id", msg.MessageId,
				"trace_id", req.TraceID,
				"run_id", result.RunID,
				"tenant_id", result.TenantID,
				"status", result.Status,
			)
		}

		return events.SQSEventResponse{BatchItemFailures: failures}, nil
	}
}

func isValidationError(err error) bool {
	switch types.CodeOf(err) {
	case types.ErrCodeValidationInvalidProvider,
		types.ErrCodeValidationInvalidDateRange,
		types.ErrCodeValidationMissingField:
		return true
	}
	return false
}

func buildBackfillRunner(cfg *config.Config, pool *pgxpool.Pool, awsCfg aws.Config, logger *slog.Logger) (*scheduler.BackfillRunner, error) {
	cipher, err := crypto.NewTokenCipher(cfg.Sync.TokenCipherKey)
	if err != nil {
		return nil, err
	}

	credRepo := db.NewCredentialRepo(pool, cipher)
	bindingRepo := db.NewBindingRepo(pool)
	searchRepo := db.NewSearchFactRepo(pool, cfg.Sync.UpsertBatchSize)
	trafficRepo := db.NewTrafficFactRepo(pool, cfg.Sync.UpsertBatchSize)

	var archiver external.RawArchiver
	if cfg.AWS.RawArchiveBucket != "" {
		sink, aerr := archive.NewRawSink(archive.RawSinkConfig{
			Client: s3.NewFromConfig(awsCfg),
			Bucket: cfg.AWS.RawArchiveBucket,
			Logger: logger,
		})
		if aerr != nil {
			return nil, aerr
		}
		archiver = sink
	}

	oauthClient := external.NewGoogleOAuthClient(external.GoogleOAuthClientConfig{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		HTTPTimeout:  cfg.Sync.HTTPTimeout,
		Logger:       logger,
	})
	searchClient := external.NewSearchConsoleClient(external.SearchConsoleClientConfig{
		HTTPTimeout: cfg.Sync.HTTPTimeout,
		Logger:      logger,
		Archiver:    archiver,
	})
	analyticsClient := external.NewAnalyticsClient(external.AnalyticsClientConfig{
		HTTPTimeout: cfg.Sync.HTTPTimeout,
		Logger:      logger,
		Archiver:    archiver,
	})

	tokens := syncpkg.NewTokenManager(syncpkg.TokenManagerConfig{
		Store:         credRepo,
		Refresher:     oauthClient,
		RefreshBuffer: cfg.Sync.TokenRefreshBuffer,
		Logger:        logger,
	})

	engine := syncpkg.NewEngine(syncpkg.EngineConfig{
		Tokens:   tokens,
		Bindings: bindingRepo,
		Adapters: []syncpkg.ProviderAdapter{
			syncpkg.NewSearchAdapter(syncpkg.SearchAdapterConfig{
				API:    searchClient,
				Store:  searchRepo,
				Logger: logger,
			}),
			syncpkg.NewTrafficAdapter(syncpkg.TrafficAdapterConfig{
				API:    analyticsClient,
				Store:  trafficRepo,
				Logger: logger,
			}),
		},
		GranularChunkDays:  cfg.Sync.GranularChunkDays,
		AggregateChunkDays: cfg.Sync.AggregateChunkDays,
		PageSize:           cfg.Sync.PageSize,
		Logger:             logger,
	})

	var emitter scheduler.MetricsEmitter = metrics.NoopEmitter{}
	if cfg.Environment != "local" {
		emitter = metrics.NewCloudWatchEmitter(metrics.CloudWatchEmitterConfig{
			Client:    cloudwatch.NewFromConfig(awsCfg),
			Namespace: cfg.AWS.MetricNamespace,
			Logger:    logger,
		})
	}

	return scheduler.NewBackfillRunner(scheduler.BackfillRunnerConfig{
		Engine:  engine,
		Metrics: emitter,
		Logger:  logger,
	}), nil
}

func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
