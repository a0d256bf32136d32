// Package archive stores raw reporting API payloads in object storage for
// diagnostics. When a tenant disputes a number, the compressed original
// response settles whether the discrepancy came from the provider or from
// this pipeline. Archival is strictly best-effort: it never fails a sync.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"searchpulse/internal/types"
)

// S3Putter is the slice of the S3 client the sink uses.
type S3Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// RawSinkConfig configures a RawSink.
type RawSinkConfig struct {
	Client S3Putter
	Bucket string
	Logger *slog.Logger
}

// RawSink compresses raw response payloads with zstd and writes them to S3
// under raw/{provider}/{tenant}/{start}_{end}/{uuid}.json.zst.
type RawSink struct {
	client  S3Putter
	bucket  string
	encoder *zstd.Encoder
	logger  *slog.Logger
}

// NewRawSink creates an archive sink. The zstd encoder is created once and
// used concurrently via EncodeAll, which is safe for parallel callers.
func NewRawSink(cfg RawSinkConfig) (*RawSink, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return &RawSink{
		client:  cfg.Client,
		bucket:  cfg.Bucket,
		encoder: enc,
		logger:  logger,
	}, nil
}

// Archive writes one payload. Failures are logged and swallowed; the caller
// must not observe them.
func (s *RawSink) Archive(ctx context.Context, provider types.Provider, tenantID string, r types.DateRange, payload []byte) {
	if len(payload) == 0 {
		return
	}

	compressed := s.encoder.EncodeAll(payload, nil)
	key := fmt.Sprintf("raw/%s/%s/%s_%s/%s.json.zst",
		provider,
		tenantID,
		r.Start.Format(types.DateLayout),
		r.End.Format(types.DateLayout),
		uuid.NewString(),
	)

	// Bound the write so a slow S3 call cannot stall the sync it rides on.
	putCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.client.PutObject(putCtx, &s3.PutObjectInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(compressed),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("zstd"),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "raw payload archive failed",
			"bucket", s.bucket,
			"key", key,
			"error", err,
		)
		return
	}

	s.logger.DebugContext(ctx, "raw payload archived",
		"key", key,
		"raw_bytes", len(payload),
		"compressed_bytes", len(compressed),
	)
}
