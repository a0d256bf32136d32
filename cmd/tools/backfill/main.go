// Package main is an operator CLI for historical syncs.
//
// It validates a backfill request and either runs it in-process or enqueues
// it for the backfill worker. In-process runs are convenient for small
// ranges and dry runs; -enqueue hands large ranges to the worker so the
// terminal is not tied up for minutes.
//
// Usage:
//
//	backfill -tenant t-123 -provider search -from 2026-01-01 -to 2026-03-31
//	backfill -tenant t-123 -provider traffic -from 2026-01-01 -to 2026-01-07 -dry-run
//	backfill -tenant t-123 -provider search -from 2025-09-01 -to 2026-08-30 -enqueue
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"searchpulse/internal/archive"
	"searchpulse/internal/config"
	"searchpulse/internal/crypto"
	"searchpulse/internal/db"
	"searchpulse/internal/external"
	"searchpulse/internal/metrics"
	"searchpulse/internal/queue"
	"searchpulse/internal/scheduler"
	syncpkg "searchpulse/internal/sync"
	"searchpulse/internal/types"
)

func main() {
	var (
		tenantID  = flag.String("tenant", "", "tenant ID to backfill (required)")
		provider  = flag.String("provider", "", "provider: search or traffic (required)")
		from      = flag.String("from", "", "start date, inclusive, YYYY-MM-DD (required)")
		to        = flag.String("to", "", "end date, inclusive, YYYY-MM-DD (required)")
		chunkDays = flag.Int("chunk-days", 0, "granular chunk size override in days (0 uses the configured default)")
		dryRun    = flag.Bool("dry-run", false, "fetch and report row counts without writing")
		enqueue   = flag.Bool("enqueue", false, "enqueue the request for the backfill worker instead of running it here")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	req := types.BackfillRequest{
		TenantID:  *tenantID,
		Provider:  types.Provider(*provider),
		StartDate: *from,
		EndDate:   *to,
		ChunkDays: *chunkDays,
		DryRun:    *dryRun,
	}

	// Validate before touching any infrastructure so flag mistakes fail in
	// milliseconds.
	if _, _, err := scheduler.ValidateBackfillRequest(req); err != nil {
		fmt.Fprintf(os.Stderr, "invalid request: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	if *enqueue {
		if err := runEnqueue(ctx, cfg, req, logger); err != nil {
			logger.Error("enqueue failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := runLocal(ctx, cfg, req, logger); err != nil {
		logger.Error("backfill failed", "error", err)
		os.Exit(1)
	}
}

func runEnqueue(ctx context.Context, cfg *config.Config, req types.BackfillRequest, logger *slog.Logger) error {
	if cfg.AWS.BackfillQueueURL == "" {
		return fmt.Errorf("SQS_BACKFILL_QUEUE is not configured")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("failed to load AWS SDK config: %w", err)
	}

	producer := queue.NewBackfillProducer(queue.BackfillProducerConfig{
		Client: sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		}),
		QueueURL: cfg.AWS.BackfillQueueURL,
		Logger:   logger,
	})

	traceID, err := producer.Enqueue(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("enqueued backfill trace_id=%s\n", traceID)
	return nil
}

func runLocal(ctx context.Context, cfg *config.Config, req types.BackfillRequest, logger *slog.Logger) error {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return fmt.Errorf("invalid database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	cipher, err := crypto.NewTokenCipher(cfg.Sync.TokenCipherKey)
	if err != nil {
		return err
	}

	credRepo := db.NewCredentialRepo(pool, cipher)
	bindingRepo := db.NewBindingRepo(pool)
	searchRepo := db.NewSearchFactRepo(pool, cfg.Sync.UpsertBatchSize)
	trafficRepo := db.NewTrafficFactRepo(pool, cfg.Sync.UpsertBatchSize)

	var archiver external.RawArchiver
	if cfg.AWS.RawArchiveBucket != "" {
		awsCfg, aerr := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if aerr != nil {
			return fmt.Errorf("failed to load AWS SDK config: %w", aerr)
		}
		sink, aerr := archive.NewRawSink(archive.RawSinkConfig{
			Client: s3.NewFromConfig(awsCfg),
			Bucket: cfg.AWS.RawArchiveBucket,
			Logger: logger,
		})
		if aerr != nil {
			return aerr
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

	runner := scheduler.NewBackfillRunner(scheduler.BackfillRunnerConfig{
		Engine:  engine,
		Metrics: metrics.NoopEmitter{},
		Logger:  logger,
	})

	result, err := runner.Run(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("backfill %s run_id=%s granular=%d/%d aggregate=%d/%d chunks_failed=%d\n",
		result.Status,
		result.RunID,
		result.GranularWritten, result.GranularFetched,
		result.AggregateWritten, result.AggregateFetched,
		result.ChunksFailed,
	)
	if result.LastErr != "" {
		fmt.Printf("last error: %s\n", result.LastErr)
	}
	return nil
}
