package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const secretColumns = `id, destination_id, secret_key, algorithm, is_active, is_primary, expires_at, rotated_at, usage_count, last_used_at, created_at`

// SecretStore provides create/find/markInactive/cleanup operations over
// webhook_secrets. SecretKey is always ciphertext ("hex(iv):hex(ct)") —
// encryption and decryption happen in pkg/secret, never here.
type SecretStore struct {
	pool *pgxpool.Pool
}

// NewSecretStore creates a SecretStore backed by the given pool.
func NewSecretStore(pool *pgxpool.Pool) *SecretStore {
	return &SecretStore{pool: pool}
}

func scanSecret(row pgx.Row) (WebhookSecret, error) {
	var s WebhookSecret
	err := row.Scan(
		&s.ID, &s.DestinationID, &s.SecretKey, &s.Algorithm, &s.IsActive, &s.IsPrimary,
		&s.ExpiresAt, &s.RotatedAt, &s.UsageCount, &s.LastUsedAt, &s.CreatedAt,
	)
	return s, err
}

// CreateSecretParams holds fields for inserting a new webhook secret.
type CreateSecretParams struct {
	DestinationID uuid.UUID
	SecretKey     string
	Algorithm     string
	IsPrimary     bool
	ExpiresAt     *time.Time
}

// Create inserts a new secret row. If IsPrimary is set, the caller must have
// already demoted prior primaries within the same logical operation (see
// pkg/secret.Manager, which wraps this in a transaction-equivalent sequence).
func (s *SecretStore) Create(ctx context.Context, p CreateSecretParams) (WebhookSecret, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO webhook_secrets (destination_id, secret_key, algorithm, is_active, is_primary, expires_at, usage_count)
		 VALUES ($1, $2, $3, true, $4, $5, 0)
		 RETURNING `+secretColumns,
		p.DestinationID, p.SecretKey, p.Algorithm, p.IsPrimary, p.ExpiresAt,
	)
	return scanSecret(row)
}

// FindActiveByDestinationID returns active secrets for a destination, primary first.
func (s *SecretStore) FindActiveByDestinationID(ctx context.Context, destinationID uuid.UUID) ([]WebhookSecret, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+secretColumns+` FROM webhook_secrets
		 WHERE destination_id = $1 AND is_active = true
		 ORDER BY is_primary DESC, created_at DESC`,
		destinationID,
	)
	if err != nil {
		return nil, fmt.Errorf("finding active secrets: %w", err)
	}
	defer rows.Close()

	var out []WebhookSecret
	for rows.Next() {
		sec, err := scanSecret(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning secret: %w", err)
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

// DemotePrimary clears is_primary on the current primary secret(s) for a
// destination, keeping them active through the rotation overlap window.
func (s *SecretStore) DemotePrimary(ctx context.Context, destinationID uuid.UUID, rotatedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE webhook_secrets SET is_primary = false, rotated_at = $2 WHERE destination_id = $1 AND is_primary = true`,
		destinationID, rotatedAt,
	)
	if err != nil {
		return fmt.Errorf("demoting primary secret: %w", err)
	}
	return nil
}

// DeactivateAll marks every secret for a destination inactive — used by BYOS
// configuration, which replaces the entire secret set.
func (s *SecretStore) DeactivateAll(ctx context.Context, destinationID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE webhook_secrets SET is_active = false WHERE destination_id = $1 AND is_active = true`,
		destinationID,
	)
	if err != nil {
		return fmt.Errorf("deactivating secrets: %w", err)
	}
	return nil
}

// MarkInactive deactivates a single secret by id, e.g. once its overlap
// window elapses after a rotation.
func (s *SecretStore) MarkInactive(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE webhook_secrets SET is_active = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking secret inactive: %w", err)
	}
	return nil
}

// RecordUsage bumps usage_count and last_used_at after a secret signs a request.
func (s *SecretStore) RecordUsage(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE webhook_secrets SET usage_count = usage_count + 1, last_used_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("recording secret usage: %w", err)
	}
	return nil
}

// CleanupExpired removes inactive secrets past their expiry, returning the
// number of rows deleted.
func (s *SecretStore) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM webhook_secrets WHERE is_active = false AND expires_at IS NOT NULL AND expires_at < now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("cleaning up expired secrets: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountActive returns how many active secrets a destination currently has,
// enforcing the maxActiveSecrets invariant at the call site.
func (s *SecretStore) CountActive(ctx context.Context, destinationID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM webhook_secrets WHERE destination_id = $1 AND is_active = true`,
		destinationID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active secrets: %w", err)
	}
	return n, nil
}
