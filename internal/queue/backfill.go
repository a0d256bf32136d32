// Package queue produces backfill work items onto SQS so large historical
// syncs run in the worker instead of blocking an operator's terminal.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"searchpulse/internal/types"
)

// SQSSender is the slice of the SQS client the producer uses.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// BackfillProducerConfig configures a BackfillProducer.
type BackfillProducerConfig struct {
	Client   SQSSender
	QueueURL string
	Logger   *slog.Logger
}

// BackfillProducer enqueues backfill requests. Each message body is the
// JSON-encoded request; the trace ID ties the enqueue log line to the
// worker's processing logs.
type BackfillProducer struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewBackfillProducer creates a producer for the backfill queue.
func NewBackfillProducer(cfg BackfillProducerConfig) *BackfillProducer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BackfillProducer{client: cfg.Client, queueURL: cfg.QueueURL, logger: logger}
}

// Enqueue sends one backfill request to the queue and returns its trace ID.
// A missing trace ID is assigned here so every queued request is traceable.
func (p *BackfillProducer) Enqueue(ctx context.Context, req types.BackfillRequest) (string, error) {
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode backfill request", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to enqueue backfill request", err)
	}

	p.logger.InfoContext(ctx, "backfill request enqueued",
		"trace_id", req.TraceID,
		"tenant_id", req.TenantID,
		"provider", req.Provider,
		"start_date", req.StartDate,
		"end_date", req.EndDate,
		"dry_run", req.DryRun,
	)
	return req.TraceID, nil
}
