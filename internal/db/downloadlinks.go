package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const downloadLinkColumns = `id, organization_id, object_type, file_name, file_size, expires_at, max_access, access_count, accessed_by, is_active, revoked_at, revoked_reason, created_at`

// DownloadLinkStore provides CRUD plus access/analytics operations over
// download_links.
type DownloadLinkStore struct {
	pool *pgxpool.Pool
}

// NewDownloadLinkStore creates a DownloadLinkStore backed by the given pool.
func NewDownloadLinkStore(pool *pgxpool.Pool) *DownloadLinkStore {
	return &DownloadLinkStore{pool: pool}
}

func scanDownloadLink(row pgx.Row) (DownloadLink, error) {
	var l DownloadLink
	var accessedRaw []byte
	err := row.Scan(
		&l.ID, &l.OrganizationID, &l.ObjectType, &l.FileName, &l.FileSize, &l.ExpiresAt,
		&l.MaxAccess, &l.AccessCount, &accessedRaw, &l.IsActive, &l.RevokedAt, &l.RevokedReason, &l.CreatedAt,
	)
	if err != nil {
		return l, err
	}
	if len(accessedRaw) > 0 {
		if err := json.Unmarshal(accessedRaw, &l.AccessedBy); err != nil {
			return l, fmt.Errorf("unmarshalling access records: %w", err)
		}
	}
	return l, nil
}

// CreateDownloadLinkParams holds fields for creating a download link.
type CreateDownloadLinkParams struct {
	OrganizationID uuid.UUID
	ObjectType     string
	FileName       string
	FileSize       int64
	ExpiresAt      time.Time
	MaxAccess      int
}

// Create inserts a new download link row.
func (s *DownloadLinkStore) Create(ctx context.Context, p CreateDownloadLinkParams) (DownloadLink, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO download_links
		   (organization_id, object_type, file_name, file_size, expires_at, max_access, access_count, accessed_by, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, '[]', true)
		 RETURNING `+downloadLinkColumns,
		p.OrganizationID, p.ObjectType, p.FileName, p.FileSize, p.ExpiresAt, p.MaxAccess,
	)
	return scanDownloadLink(row)
}

// Get returns a download link by id.
func (s *DownloadLinkStore) Get(ctx context.Context, id uuid.UUID) (DownloadLink, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+downloadLinkColumns+` FROM download_links WHERE id = $1`, id)
	return scanDownloadLink(row)
}

// RecordAccess appends an access attempt and, on success, bumps access_count.
func (s *DownloadLinkStore) RecordAccess(ctx context.Context, id uuid.UUID, rec AccessRecord) (DownloadLink, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return DownloadLink{}, fmt.Errorf("loading download link: %w", err)
	}
	accessed := append(existing.AccessedBy, rec)
	accessedJSON, err := json.Marshal(accessed)
	if err != nil {
		return DownloadLink{}, fmt.Errorf("marshalling access records: %w", err)
	}

	increment := 0
	if rec.Success {
		increment = 1
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE download_links SET accessed_by = $2, access_count = access_count + $3 WHERE id = $1
		 RETURNING `+downloadLinkColumns,
		id, accessedJSON, increment,
	)
	return scanDownloadLink(row)
}

// Revoke deactivates a link with a reason.
func (s *DownloadLinkStore) Revoke(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE download_links SET is_active = false, revoked_at = now(), revoked_reason = $2 WHERE id = $1`,
		id, reason,
	)
	if err != nil {
		return fmt.Errorf("revoking download link: %w", err)
	}
	return nil
}

// CleanupExpired removes expired or inactive links, returning bytes freed.
func (s *DownloadLinkStore) CleanupExpired(ctx context.Context) (int64, error) {
	var bytesFreed int64
	err := s.pool.QueryRow(ctx,
		`WITH deleted AS (
		   DELETE FROM download_links
		   WHERE (expires_at < now() OR is_active = false)
		   RETURNING file_size
		 )
		 SELECT COALESCE(sum(file_size), 0) FROM deleted`,
	).Scan(&bytesFreed)
	if err != nil {
		return 0, fmt.Errorf("cleaning up expired download links: %w", err)
	}
	return bytesFreed, nil
}

// ListByOrg lists download links for an organization within [start, end),
// optionally filtered by objectType, for analytics aggregation.
func (s *DownloadLinkStore) ListByOrg(ctx context.Context, orgID uuid.UUID, start, end time.Time, objectType string) ([]DownloadLink, error) {
	query := `SELECT ` + downloadLinkColumns + ` FROM download_links WHERE organization_id = $1 AND created_at >= $2 AND created_at < $3`
	args := []any{orgID, start, end}
	if objectType != "" {
		query += ` AND object_type = $4`
		args = append(args, objectType)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing download links: %w", err)
	}
	defer rows.Close()

	var out []DownloadLink
	for rows.Next() {
		l, err := scanDownloadLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning download link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
