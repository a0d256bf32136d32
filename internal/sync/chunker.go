package sync

import (
	"searchpulse/internal/types"
)

// ChunkRange splits an inclusive date range into consecutive chunks of at
// most chunkDays calendar days. Chunks are contiguous, non-overlapping, and
// their union is exactly the input range; the final chunk may be shorter.
// A chunkDays of zero or less yields the whole range as one chunk. An
// inverted range yields no chunks.
func ChunkRange(r types.DateRange, chunkDays int) []types.DateRange {
	start := types.Date(r.Start)
	end := types.Date(r.End)
	if start.After(end) {
		return nil
	}
	if chunkDays <= 0 {
		return []types.DateRange{{Start: start, End: end}}
	}

	var chunks []types.DateRange
	for cur := start; !cur.After(end); {
		chunkEnd := cur.AddDate(0, 0, chunkDays-1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		chunks = append(chunks, types.DateRange{Start: cur, End: chunkEnd})
		cur = chunkEnd.AddDate(0, 0, 1)
	}
	return chunks
}
