package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const healthColumns = `destination_id, consecutive_failures, total_failures, total_deliveries, success_rate, average_response_time_ms, circuit_breaker_state, circuit_breaker_opened_at, status, last_failure_at, updated_at`

// HealthStore provides upsert/get/findUnhealthy operations over destination_health.
type HealthStore struct {
	pool *pgxpool.Pool
}

// NewHealthStore creates a HealthStore backed by the given pool.
func NewHealthStore(pool *pgxpool.Pool) *HealthStore {
	return &HealthStore{pool: pool}
}

func scanHealth(row pgx.Row) (DestinationHealth, error) {
	var h DestinationHealth
	err := row.Scan(
		&h.DestinationID, &h.ConsecutiveFailures, &h.TotalFailures, &h.TotalDeliveries,
		&h.SuccessRate, &h.AverageResponseTimeMs, &h.CircuitBreakerState, &h.CircuitBreakerOpenedAt,
		&h.Status, &h.LastFailureAt, &h.UpdatedAt,
	)
	return h, err
}

// Get returns the health row for a destination, lazily created on first
// delivery attempt — callers should fall back to a zero-value closed/healthy
// row when this returns pgx.ErrNoRows.
func (s *HealthStore) Get(ctx context.Context, destinationID uuid.UUID) (DestinationHealth, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+healthColumns+` FROM destination_health WHERE destination_id = $1`,
		destinationID,
	)
	return scanHealth(row)
}

// Upsert writes the full health row, creating it if absent.
func (s *HealthStore) Upsert(ctx context.Context, h DestinationHealth) (DestinationHealth, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO destination_health
		   (destination_id, consecutive_failures, total_failures, total_deliveries, success_rate,
		    average_response_time_ms, circuit_breaker_state, circuit_breaker_opened_at, status, last_failure_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (destination_id) DO UPDATE SET
		   consecutive_failures = $2, total_failures = $3, total_deliveries = $4, success_rate = $5,
		   average_response_time_ms = $6, circuit_breaker_state = $7, circuit_breaker_opened_at = $8,
		   status = $9, last_failure_at = $10, updated_at = now()
		 RETURNING `+healthColumns,
		h.DestinationID, h.ConsecutiveFailures, h.TotalFailures, h.TotalDeliveries, h.SuccessRate,
		h.AverageResponseTimeMs, h.CircuitBreakerState, h.CircuitBreakerOpenedAt, h.Status, h.LastFailureAt,
	)
	return scanHealth(row)
}

// FindUnhealthy lists destinations currently classified unhealthy or with an
// open circuit, for the facade's aggregate healthCheck.
func (s *HealthStore) FindUnhealthy(ctx context.Context) ([]DestinationHealth, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+healthColumns+` FROM destination_health WHERE status = 'unhealthy' OR circuit_breaker_state = 'open'`,
	)
	if err != nil {
		return nil, fmt.Errorf("finding unhealthy destinations: %w", err)
	}
	defer rows.Close()

	var out []DestinationHealth
	for rows.Next() {
		h, err := scanHealth(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning health row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Zero returns the default health row for a destination that has never had
// an attempt recorded: closed circuit, healthy.
func Zero(destinationID uuid.UUID) DestinationHealth {
	return DestinationHealth{
		DestinationID:       destinationID,
		CircuitBreakerState: CircuitClosed,
		Status:              HealthHealthy,
		UpdatedAt:           time.Now().UTC(),
	}
}
