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

const deliveryLogColumns = `delivery_id, organization_id, destination_id, attempts, status, last_attempt_at, delivered_at, failure_reason, cross_system_reference, created_at, updated_at`

// DeliveryLogStore provides append/get operations over delivery_logs.
type DeliveryLogStore struct {
	pool *pgxpool.Pool
}

// NewDeliveryLogStore creates a DeliveryLogStore backed by the given pool.
func NewDeliveryLogStore(pool *pgxpool.Pool) *DeliveryLogStore {
	return &DeliveryLogStore{pool: pool}
}

func scanDeliveryLog(row pgx.Row) (DeliveryLog, error) {
	var l DeliveryLog
	var attemptsRaw []byte
	err := row.Scan(
		&l.DeliveryID, &l.OrganizationID, &l.DestinationID, &attemptsRaw, &l.Status,
		&l.LastAttemptAt, &l.DeliveredAt, &l.FailureReason, &l.CrossSystemReference,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return l, err
	}
	if len(attemptsRaw) > 0 {
		if err := json.Unmarshal(attemptsRaw, &l.Attempts); err != nil {
			return l, fmt.Errorf("unmarshalling delivery log attempts: %w", err)
		}
	}
	return l, nil
}

// AppendParams describes one delivery attempt outcome to append.
type AppendParams struct {
	DeliveryID           uuid.UUID
	OrganizationID       uuid.UUID
	DestinationID        uuid.UUID
	Success              bool
	Status               QueueStatus
	FailureReason        string
	CrossSystemReference string
	At                   time.Time
}

// Append upserts the delivery log row for deliveryId, appending a new
// attempt entry. One row accumulates attempts across an entire retry chain.
func (s *DeliveryLogStore) Append(ctx context.Context, p AppendParams) (DeliveryLog, error) {
	existing, err := s.Get(ctx, p.DeliveryID)
	attempts := []DeliveryLogAttempt{}
	if err == nil {
		attempts = existing.Attempts
	} else if err != pgx.ErrNoRows {
		return DeliveryLog{}, fmt.Errorf("loading existing delivery log: %w", err)
	}
	attempts = append(attempts, DeliveryLogAttempt{At: p.At, Success: p.Success})
	attemptsJSON, err := json.Marshal(attempts)
	if err != nil {
		return DeliveryLog{}, fmt.Errorf("marshalling attempts: %w", err)
	}

	var deliveredAt *time.Time
	if p.Success {
		t := p.At
		deliveredAt = &t
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO delivery_logs
		   (delivery_id, organization_id, destination_id, attempts, status, last_attempt_at, delivered_at, failure_reason, cross_system_reference)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (delivery_id) DO UPDATE SET
		   attempts = $4, status = $5, last_attempt_at = $6,
		   delivered_at = COALESCE(delivery_logs.delivered_at, $7),
		   failure_reason = $8, cross_system_reference = COALESCE(NULLIF($9, ''), delivery_logs.cross_system_reference), updated_at = now()
		 RETURNING `+deliveryLogColumns,
		p.DeliveryID, p.OrganizationID, p.DestinationID, attemptsJSON, p.Status,
		p.At, deliveredAt, p.FailureReason, p.CrossSystemReference,
	)
	return scanDeliveryLog(row)
}

// Get returns the delivery log row for a deliveryId.
func (s *DeliveryLogStore) Get(ctx context.Context, deliveryID uuid.UUID) (DeliveryLog, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deliveryLogColumns+` FROM delivery_logs WHERE delivery_id = $1`,
		deliveryID,
	)
	return scanDeliveryLog(row)
}
