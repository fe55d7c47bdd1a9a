package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const apiKeyColumns = `id, organization_id, key_hash, key_prefix, description, role, last_used_at, created_at`

// APIKeyStore provides CRUD and hash-lookup operations over admin_api_keys.
type APIKeyStore struct {
	pool *pgxpool.Pool
}

// NewAPIKeyStore creates an APIKeyStore backed by the given pool.
func NewAPIKeyStore(pool *pgxpool.Pool) *APIKeyStore {
	return &APIKeyStore{pool: pool}
}

func scanAPIKey(row pgx.Row) (APIKey, error) {
	var k APIKey
	err := row.Scan(&k.ID, &k.OrganizationID, &k.KeyHash, &k.KeyPrefix, &k.Description, &k.Role, &k.LastUsedAt, &k.CreatedAt)
	return k, err
}

// CreateAPIKeyParams holds fields accepted when issuing an admin API key.
type CreateAPIKeyParams struct {
	OrganizationID uuid.UUID
	KeyHash        string
	KeyPrefix      string
	Description    string
	Role           string
}

// Create inserts a new API key row.
func (s *APIKeyStore) Create(ctx context.Context, p CreateAPIKeyParams) (APIKey, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO admin_api_keys (organization_id, key_hash, key_prefix, description, role)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+apiKeyColumns,
		p.OrganizationID, p.KeyHash, p.KeyPrefix, p.Description, p.Role,
	)
	return scanAPIKey(row)
}

// FindByHash looks up an API key by its SHA-256 hash, used on every
// authenticated admin API request.
func (s *APIKeyStore) FindByHash(ctx context.Context, hash string) (APIKey, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM admin_api_keys WHERE key_hash = $1`, hash)
	return scanAPIKey(row)
}

// TouchLastUsed bumps last_used_at for a key; callers fire this
// asynchronously so it never adds latency to the request path.
func (s *APIKeyStore) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE admin_api_keys SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touching api key last used: %w", err)
	}
	return nil
}

// LookupHash implements httpserver.KeyLookup: resolves a hashed API key to
// its owning organization, role, and display prefix.
func (s *APIKeyStore) LookupHash(ctx context.Context, hash string) (uuid.UUID, string, string, error) {
	k, err := s.FindByHash(ctx, hash)
	if err != nil {
		return uuid.UUID{}, "", "", err
	}
	go func() {
		_ = s.TouchLastUsed(context.Background(), k.ID, time.Now().UTC())
	}()
	return k.OrganizationID, k.Role, k.KeyPrefix, nil
}

// List returns all API keys for an organization.
func (s *APIKeyStore) List(ctx context.Context, orgID uuid.UUID) ([]APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM admin_api_keys WHERE organization_id = $1 ORDER BY created_at DESC`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var out []APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning api key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Delete removes an API key.
func (s *APIKeyStore) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM admin_api_keys WHERE organization_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return fmt.Errorf("deleting api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
