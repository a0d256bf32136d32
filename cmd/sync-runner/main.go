// Package main is the entrypoint for the daily sync Lambda function.
//
// The function runs once per provider per day via an EventBridge rule and
// syncs yesterday's metrics for every tenant holding a credential for that
// provider. This file handles dependency wiring (cold start) and delegates
// all business logic to internal/scheduler and internal/sync.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

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
	logger.Info("sync-runner initializing (cold start)")

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

	daily, err := buildDailySync(cfg, pool, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build sync runner", "error", err)
		os.Exit(1)
	}

	logger.Info("sync-runner initialized",
		"environment", cfg.Environment,
		"timezone", cfg.Sync.Timezone,
		"workers", cfg.Sync.Workers,
	)

	lambda.Start(newHandler(daily, logger))
}

// SyncRunnerInput is the EventBridge invocation payload. Date is optional
// and replays a specific day when a scheduled run was missed.
type SyncRunnerInput struct {
	Provider string `json:"provider"`
	Date     string `json:"date,omitempty"` // YYYY-MM-DD
}

func newHandler(daily *scheduler.DailySync, logger *slog.Logger) func(ctx context.Context, input SyncRunnerInput) (string, error) {
	return func(ctx context.Context, input SyncRunnerInput) (string, error) {
		provider, err := types.ParseProvider(input.Provider)
		if err != nil {
			logger.ErrorContext(ctx, "invalid provider in invocation payload",
				"provider", input.Provider)
			return "", err
		}

		var summary *types.RunSummary
		if input.Date != "" {
			day, perr := time.Parse(types.DateLayout, input.Date)
			if perr != nil {
				return "", types.NewAppError(
					types.ErrCodeValidationInvalidDateRange,
					fmt.Sprintf("date %q is not a valid date", input.Date), perr)
			}
			summary, err = daily.RunDate(ctx, provider, day)
		} else {
			summary, err = daily.RunOnce(ctx, provider)
		}
		if err != nil {
			logger.ErrorContext(ctx, "daily sync failed before tenant fan-out", "error", err)
			return "", fmt.Errorf("daily sync failed: %w", err)
		}

		return fmt.Sprintf("sync complete: %d tenants (%d complete, %d partial, %d skipped)",
			summary.Tenants, summary.Complete, summary.Partial, summary.Skipped), nil
	}
}

func buildDailySync(cfg *config.Config, pool *pgxpool.Pool, awsCfg aws.Config, logger *slog.Logger) (*scheduler.DailySync, error) {
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

	loc, err := time.LoadLocation(cfg.Sync.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid sync timezone %q: %w", cfg.Sync.Timezone, err)
	}

	var emitter scheduler.MetricsEmitter = metrics.NoopEmitter{}
	if cfg.Environment != "local" {
		emitter = metrics.NewCloudWatchEmitter(metrics.CloudWatchEmitterConfig{
			Client:    cloudwatch.NewFromConfig(awsCfg),
			Namespace: cfg.AWS.MetricNamespace,
			Logger:    logger,
		})
	}

	return scheduler.NewDailySync(scheduler.DailySyncConfig{
		Engine:   engine,
		Tenants:  credRepo,
		Metrics:  emitter,
		Location: loc,
		Workers:  cfg.Sync.Workers,
		Logger:   logger,
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
