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

const destinationColumns = `id, organization_id, label, type, config, disabled, disabled_at, disabled_by, count_usage, last_used_at, created_at, updated_at`

// DestinationStore provides CRUD operations over delivery_destinations.
type DestinationStore struct {
	pool *pgxpool.Pool
}

// NewDestinationStore creates a DestinationStore backed by the given pool.
func NewDestinationStore(pool *pgxpool.Pool) *DestinationStore {
	return &DestinationStore{pool: pool}
}

func scanDestination(row pgx.Row) (Destination, error) {
	var d Destination
	err := row.Scan(
		&d.ID, &d.OrganizationID, &d.Label, &d.Type, &d.Config,
		&d.Disabled, &d.DisabledAt, &d.DisabledBy, &d.CountUsage, &d.LastUsedAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

// List returns every destination owned by org, newest first.
func (s *DestinationStore) List(ctx context.Context, orgID uuid.UUID) ([]Destination, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+destinationColumns+` FROM delivery_destinations WHERE organization_id = $1 ORDER BY created_at DESC`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing destinations: %w", err)
	}
	defer rows.Close()

	var out []Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning destination: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListPage returns one page of org's destinations, newest first, along with
// the total row count so the caller can render page/pageSize/totalPages.
func (s *DestinationStore) ListPage(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]Destination, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM delivery_destinations WHERE organization_id = $1`, orgID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting destinations: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+destinationColumns+` FROM delivery_destinations WHERE organization_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		orgID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing destinations: %w", err)
	}
	defer rows.Close()

	var out []Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning destination: %w", err)
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// Get returns a single destination by id, scoped to org.
func (s *DestinationStore) Get(ctx context.Context, orgID, id uuid.UUID) (Destination, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+destinationColumns+` FROM delivery_destinations WHERE organization_id = $1 AND id = $2`,
		orgID, id,
	)
	return scanDestination(row)
}

// CreateDestinationParams holds fields accepted when creating a destination.
type CreateDestinationParams struct {
	OrganizationID uuid.UUID
	Label          string
	Type           DestinationType
	Config         json.RawMessage
}

// Create inserts a new destination. The (organizationId, label) pair must
// be unique; the unique index surfaces a pgx error the caller translates.
func (s *DestinationStore) Create(ctx context.Context, p CreateDestinationParams) (Destination, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO delivery_destinations (organization_id, label, type, config, disabled, count_usage)
		 VALUES ($1, $2, $3, $4, false, 0)
		 RETURNING `+destinationColumns,
		p.OrganizationID, p.Label, p.Type, p.Config,
	)
	return scanDestination(row)
}

// Update replaces a destination's config in place.
func (s *DestinationStore) Update(ctx context.Context, orgID, id uuid.UUID, config json.RawMessage) (Destination, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE delivery_destinations SET config = $3, updated_at = now()
		 WHERE organization_id = $1 AND id = $2
		 RETURNING `+destinationColumns,
		orgID, id, config,
	)
	return scanDestination(row)
}

// Disable soft-disables a destination rather than deleting it; active
// deliveries retain a valid foreign key.
func (s *DestinationStore) Disable(ctx context.Context, orgID, id uuid.UUID, disabledBy string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE delivery_destinations
		 SET disabled = true, disabled_at = now(), disabled_by = $3, updated_at = now()
		 WHERE organization_id = $1 AND id = $2`,
		orgID, id, disabledBy,
	)
	if err != nil {
		return fmt.Errorf("disabling destination: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// RecordUsage bumps the usage counter and last-used timestamp; called by the
// queue processor after every dispatch attempt, success or failure.
func (s *DestinationStore) RecordUsage(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE delivery_destinations SET count_usage = count_usage + 1, last_used_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("recording destination usage: %w", err)
	}
	return nil
}

// FindByOrg is an alias for List kept for naming parity with the other
// stores' FindByX repository methods.
func (s *DestinationStore) FindByOrg(ctx context.Context, orgID uuid.UUID) ([]Destination, error) {
	return s.List(ctx, orgID)
}
