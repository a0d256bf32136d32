package external

import (
	"context"

	"searchpulse/internal/types"
)

// RawArchiver receives raw response payloads for best-effort diagnostic
// archival. Implementations must never fail a sync: errors are logged and
// swallowed inside Archive.
type RawArchiver interface {
	Archive(ctx context.Context, provider types.Provider, tenantID string, r types.DateRange, payload []byte)
}
