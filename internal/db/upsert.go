package db

import (
	"fmt"
	"strings"

	"searchpulse/internal/types"
)

// DefaultUpsertBatchSize bounds the row count of one upsert statement when
// the caller does not configure one. Large enough to amortize round trips,
// small enough to keep statements under the Postgres parameter limit.
const DefaultUpsertBatchSize = 1000

// valuesPlaceholders renders the VALUES clause placeholder groups for a
// multi-row insert: "($1,$2),($3,$4)" for rowCount=2, colCount=2.
func valuesPlaceholders(rowCount, colCount int) string {
	var sb strings.Builder
	arg := 1
	for row := 0; row < rowCount; row++ {
		if row > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('(')
		for col := 0; col < colCount; col++ {
			if col > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "$%d", arg)
			arg++
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

// batchBounds yields [start, end) slice bounds for batching n rows.
func batchBounds(n, batchSize int) [][2]int {
	if batchSize < 1 {
		batchSize = DefaultUpsertBatchSize
	}
	var bounds [][2]int
	for start := 0; start < n; start += batchSize {
		end := min(start+batchSize, n)
		bounds = append(bounds, [2]int{start, end})
	}
	return bounds
}

// writeBatchError wraps the first batch failure with the key range of the
// failed batch so operators can target a backfill at the gap.
func writeBatchError(table string, batchIndex, start, end int, err error) *types.AppError {
	appErr := types.NewAppError(types.ErrCodeWriteBatchFailed,
		fmt.Sprintf("upsert batch %d failed for %s", batchIndex, table), err)
	return appErr.WithDetails(map[string]any{
		"table":     table,
		"batch":     batchIndex,
		"row_start": start,
		"row_end":   end,
	})
}
