// Package sync implements the metric synchronization engine: token
// lifecycle, date-range chunking, offset pagination, and the dual-pass
// (granular plus aggregate) state machine that moves reporting rows from the
// vendor APIs into the fact tables.
package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"searchpulse/internal/types"
)

// CredentialStore is the persistence surface the token manager needs.
type CredentialStore interface {
	Get(ctx context.Context, tenantID string, provider types.Provider) (*types.Credential, error)
	UpdateTokens(ctx context.Context, tenantID string, provider types.Provider, set types.TokenSet) error
}

// TokenRefresher exchanges a refresh token for a fresh access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken types.SecretString) (types.TokenSet, error)
}

// DefaultRefreshBuffer is how long before expiry a token is treated as
// already expired. Reporting queries can run for minutes; a token that
// expires mid-chunk wastes the whole chunk.
const DefaultRefreshBuffer = 5 * time.Minute

// TokenManagerConfig configures a TokenManager.
type TokenManagerConfig struct {
	Store         CredentialStore
	Refresher     TokenRefresher
	RefreshBuffer time.Duration
	Logger        *slog.Logger
	Now           func() time.Time // for testability; defaults to time.Now
}

// TokenManager hands out valid access tokens for (tenant, provider) pairs,
// refreshing through the OAuth endpoint when the stored token is expired or
// inside the refresh buffer. Concurrent calls for the same pair serialize so
// a single refresh is performed; different pairs do not block each other.
type TokenManager struct {
	store         CredentialStore
	refresher     TokenRefresher
	refreshBuffer time.Duration
	logger        *slog.Logger
	now           func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTokenManager creates a TokenManager.
func NewTokenManager(cfg TokenManagerConfig) *TokenManager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buffer := cfg.RefreshBuffer
	if buffer <= 0 {
		buffer = DefaultRefreshBuffer
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &TokenManager{
		store:         cfg.Store,
		refresher:     cfg.Refresher,
		refreshBuffer: buffer,
		logger:        logger,
		now:           nowFn,
		locks:         make(map[string]*sync.Mutex),
	}
}

// GetValidToken returns an access token guaranteed to remain valid for at
// least the refresh buffer. A token refresh that succeeds upstream but fails
// to persist still returns the fresh token: the sync run proceeds and the
// next run refreshes again.
func (m *TokenManager) GetValidToken(ctx context.Context, tenantID string, provider types.Provider) (types.SecretString, error) {
	lock := m.pairLock(tenantID, provider)
	lock.Lock()
	defer lock.Unlock()

	cred, err := m.store.Get(ctx, tenantID, provider)
	if err != nil {
		return "", err
	}

	deadline := m.now().Add(m.refreshBuffer)
	if cred.AccessToken.Unmask() != "" && cred.ExpiresAt.After(deadline) {
		return cred.AccessToken, nil
	}

	set, err := m.refresher.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		return "", err
	}

	if err := m.store.UpdateTokens(ctx, tenantID, provider, set); err != nil {
		m.logger.WarnContext(ctx, "refreshed token could not be persisted; continuing with in-memory token",
			"tenant_id", tenantID,
			"provider", provider,
			"error", err,
		)
	} else {
		m.logger.InfoContext(ctx, "access token refreshed",
			"tenant_id", tenantID,
			"provider", provider,
			"expires_at", set.ExpiresAt,
			"refresh_token_rotated", set.RefreshToken.Unmask() != "",
		)
	}

	return set.AccessToken, nil
}

func (m *TokenManager) pairLock(tenantID string, provider types.Provider) *sync.Mutex {
	key := tenantID + "/" + string(provider)
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock
}
