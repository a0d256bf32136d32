package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"searchpulse/internal/types"
)

// BindingRepo provides data access for the provider_bindings table, which
// maps a (tenant, provider) pair to the provider-side resource identifier:
// a site URL for the search provider, a property ID for the traffic
// provider. One table serves both; the provider column discriminates.
//
// Bindings are immutable once created. Create uses ON CONFLICT DO NOTHING so
// a concurrent discovery race cannot overwrite an existing binding.
type BindingRepo struct {
	db DBTX
}

// NewBindingRepo creates a BindingRepo backed by the given database
// connection (pool or transaction).
func NewBindingRepo(db DBTX) *BindingRepo {
	return &BindingRepo{db: db}
}

// Get returns the binding for a (tenant, provider) pair, or nil when none
// has been discovered yet. The nil return is not an error: the sync engine
// treats it as "discover now".
func (r *BindingRepo) Get(ctx context.Context, tenantID string, provider types.Provider) (*types.Binding, error) {
	query := `
		SELECT tenant_id, provider, external_id, created_at
		FROM provider_bindings
		WHERE tenant_id = $1 AND provider = $2`

	var b types.Binding
	var createdAt time.Time
	err := r.db.QueryRow(ctx, query, tenantID, provider).Scan(
		&b.TenantID, &b.Provider, &b.ExternalID, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query binding", err)
	}
	b.CreatedAt = createdAt
	return &b, nil
}

// Create persists a discovered binding if absent. Losing an insert race is
// fine; the stored value wins and the caller re-reads it.
func (r *BindingRepo) Create(ctx context.Context, binding *types.Binding) error {
	query := `
		INSERT INTO provider_bindings (tenant_id, provider, external_id, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tenant_id, provider) DO NOTHING`

	_, err := r.db.Exec(ctx, query, binding.TenantID, binding.Provider, binding.ExternalID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create binding", err)
	}
	return nil
}
