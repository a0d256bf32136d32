package sync

import (
	"context"
	"log/slog"

	"searchpulse/internal/types"
)

// MaxPages bounds offset pagination per chunk. A report that legitimately
// exceeds MaxPages * pageSize rows indicates the chunk size is too large;
// the fetch stops and returns what it has rather than looping on a
// misbehaving upstream.
const MaxPages = 100

// PageFunc fetches one page of rows at the given offset. It must return
// fewer than limit rows on the final page.
type PageFunc[T any] func(ctx context.Context, offset, limit int) ([]T, error)

// FetchAllPages drains an offset-paginated report. It stops when a page
// comes back short, and at MaxPages as a safety limit. Hitting the limit is
// not an error: the rows gathered so far are returned and a warning is
// logged so the chunk size can be tuned.
func FetchAllPages[T any](ctx context.Context, logger *slog.Logger, pageSize int, fetch PageFunc[T]) ([]T, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var all []T
	for page := 0; page < MaxPages; page++ {
		rows, err := fetch(ctx, page*pageSize, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
		if len(rows) < pageSize {
			return all, nil
		}
	}

	logger.WarnContext(ctx, "pagination safety limit reached; returning partial results",
		"error_code", types.ErrCodePaginationSafetyLimit,
		"pages", MaxPages,
		"rows", len(all),
	)
	return all, nil
}
