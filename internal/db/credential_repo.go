package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"searchpulse/internal/types"
)

// TokenCipher is the at-rest encryption the credential repository applies to
// token columns. Satisfied by *crypto.TokenCipher.
type TokenCipher interface {
	Seal(plaintext types.SecretString) (string, error)
	Open(encoded string) (types.SecretString, error)
}

// CredentialRepo provides data access for the provider_credentials table.
//
// The table has a unique index on (tenant_id, provider): at most one live
// credential per pair. Token columns are stored encrypted; the repository
// seals on write and opens on read so callers only ever see plaintext
// SecretString values.
type CredentialRepo struct {
	db     DBTX
	cipher TokenCipher
}

// NewCredentialRepo creates a CredentialRepo backed by the given database
// connection (pool or transaction) and token cipher.
func NewCredentialRepo(db DBTX, cipher TokenCipher) *CredentialRepo {
	return &CredentialRepo{db: db, cipher: cipher}
}

const credentialColumns = `id, tenant_id, provider, access_token, refresh_token,
	       token_type, scope, account_email, expires_at, created_at, updated_at`

// Get returns the credential for a (tenant, provider) pair, or a
// credential_not_found AppError when none exists.
func (r *CredentialRepo) Get(ctx context.Context, tenantID string, provider types.Provider) (*types.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM provider_credentials
		WHERE tenant_id = $1 AND provider = $2`

	row := r.db.QueryRow(ctx, query, tenantID, provider)
	cred, err := r.scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeCredentialNotFound,
				"no credential for tenant "+tenantID, err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query credential", err)
	}
	return cred, nil
}

// Upsert creates or replaces the credential for (tenant, provider). Called
// from the OAuth callback path; a reconnect overwrites the previous grant.
func (r *CredentialRepo) Upsert(ctx context.Context, cred *types.Credential) error {
	access, err := r.cipher.Seal(cred.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := r.cipher.Seal(cred.RefreshToken)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO provider_credentials
			(id, tenant_id, provider, access_token, refresh_token,
			 token_type, scope, account_email, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (tenant_id, provider)
		DO UPDATE SET access_token = EXCLUDED.access_token,
		              refresh_token = EXCLUDED.refresh_token,
		              token_type = EXCLUDED.token_type,
		              scope = EXCLUDED.scope,
		              account_email = EXCLUDED.account_email,
		              expires_at = EXCLUDED.expires_at,
		              updated_at = NOW()`

	_, err = r.db.Exec(ctx, query,
		cred.ID, cred.TenantID, cred.Provider, access, refresh,
		cred.TokenType, cred.Scope, cred.AccountEmail, cred.ExpiresAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert credential", err)
	}
	return nil
}

// UpdateTokens persists the outcome of a refresh-token exchange. The stored
// refresh token is replaced only when the provider issued a new one
// (set.RefreshToken non-empty); otherwise the existing value is retained.
// token_type and scope follow the same rule via NULLIF: an empty response
// field keeps the stored column.
func (r *CredentialRepo) UpdateTokens(ctx context.Context, tenantID string, provider types.Provider, set types.TokenSet) error {
	access, err := r.cipher.Seal(set.AccessToken)
	if err != nil {
		return err
	}

	if set.RefreshToken == "" {
		query := `
			UPDATE provider_credentials
			SET access_token = $1,
			    token_type = COALESCE(NULLIF($2, ''), token_type),
			    scope = COALESCE(NULLIF($3, ''), scope),
			    expires_at = $4, updated_at = NOW()
			WHERE tenant_id = $5 AND provider = $6`
		_, err = r.db.Exec(ctx, query, access, set.TokenType, set.Scope, set.ExpiresAt, tenantID, provider)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to update access token", err)
		}
		return nil
	}

	refresh, err := r.cipher.Seal(set.RefreshToken)
	if err != nil {
		return err
	}
	query := `
		UPDATE provider_credentials
		SET access_token = $1, refresh_token = $2,
		    token_type = COALESCE(NULLIF($3, ''), token_type),
		    scope = COALESCE(NULLIF($4, ''), scope),
		    expires_at = $5, updated_at = NOW()
		WHERE tenant_id = $6 AND provider = $7`
	_, err = r.db.Exec(ctx, query, access, refresh, set.TokenType, set.Scope, set.ExpiresAt, tenantID, provider)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update rotated tokens", err)
	}
	return nil
}

// Delete removes the credential for a (tenant, provider) pair. Called on
// explicit disconnect.
func (r *CredentialRepo) Delete(ctx context.Context, tenantID string, provider types.Provider) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM provider_credentials WHERE tenant_id = $1 AND provider = $2`,
		tenantID, provider)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete credential", err)
	}
	return nil
}

// ListTenantIDs returns the tenants holding a credential for the provider,
// ordered for deterministic scheduler iteration. Tenants whose refresh token
// was already rejected get skipped later by the token manager; enumeration
// only requires that a credential row exists.
func (r *CredentialRepo) ListTenantIDs(ctx context.Context, provider types.Provider) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT tenant_id FROM provider_credentials WHERE provider = $1 ORDER BY tenant_id`,
		provider)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list credential tenants", err)
	}
	defer rows.Close()

	var tenantIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan tenant id", err)
		}
		tenantIDs = append(tenantIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating credential tenants", err)
	}
	return tenantIDs, nil
}

// scanCredential scans one credential row and decrypts its token columns.
func (r *CredentialRepo) scanCredential(row pgx.Row) (*types.Credential, error) {
	var cred types.Credential
	var access, refresh string
	var expiresAt, createdAt, updatedAt time.Time

	if err := row.Scan(
		&cred.ID, &cred.TenantID, &cred.Provider, &access, &refresh,
		&cred.TokenType, &cred.Scope, &cred.AccountEmail,
		&expiresAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	accessToken, err := r.cipher.Open(access)
	if err != nil {
		return nil, err
	}
	refreshToken, err := r.cipher.Open(refresh)
	if err != nil {
		return nil, err
	}

	cred.AccessToken = accessToken
	cred.RefreshToken = refreshToken
	cred.ExpiresAt = expiresAt
	cred.CreatedAt = createdAt
	cred.UpdatedAt = updatedAt
	return &cred, nil
}
