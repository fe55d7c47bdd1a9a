package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const queueColumns = `id, organization_id, destination_id, delivery_id, correlation_id, idempotency_key, payload, priority, scheduled_at, next_retry_at, processed_at, status, retry_count, max_retries, metadata, created_at, updated_at`

// QueueStore provides enqueue/claim/update operations over delivery_queue_items.
type QueueStore struct {
	pool *pgxpool.Pool
}

// NewQueueStore creates a QueueStore backed by the given pool.
func NewQueueStore(pool *pgxpool.Pool) *QueueStore {
	return &QueueStore{pool: pool}
}

func scanQueueItem(row pgx.Row) (QueueItem, error) {
	var q QueueItem
	var metaRaw []byte
	err := row.Scan(
		&q.ID, &q.OrganizationID, &q.DestinationID, &q.DeliveryID, &q.CorrelationID, &q.IdempotencyKey,
		&q.Payload, &q.Priority, &q.ScheduledAt, &q.NextRetryAt, &q.ProcessedAt,
		&q.Status, &q.RetryCount, &q.MaxRetries, &metaRaw, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return q, err
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &q.Metadata); err != nil {
			return q, fmt.Errorf("unmarshalling queue metadata: %w", err)
		}
	}
	return q, nil
}

func scanQueueItems(rows pgx.Rows) ([]QueueItem, error) {
	defer rows.Close()
	var out []QueueItem
	for rows.Next() {
		q, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning queue item: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// EnqueueParams holds the fields needed to enqueue a delivery attempt chain.
type EnqueueParams struct {
	OrganizationID uuid.UUID
	DestinationID  uuid.UUID
	DeliveryID     uuid.UUID
	CorrelationID  *string
	IdempotencyKey *string
	Payload        json.RawMessage
	Priority       int
	ScheduledAt    time.Time
	MaxRetries     int
}

// Enqueue inserts a new queue row, or returns the existing non-terminal row
// for the same (organizationId, destinationId, idempotencyKey) — the
// idempotent-enqueue invariant.
func (s *QueueStore) Enqueue(ctx context.Context, p EnqueueParams) (QueueItem, bool, error) {
	if p.IdempotencyKey != nil && *p.IdempotencyKey != "" {
		existing, err := s.findNonTerminalByIdempotencyKey(ctx, p.OrganizationID, p.DestinationID, *p.IdempotencyKey)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return QueueItem{}, false, fmt.Errorf("checking idempotency key: %w", err)
		}
	}

	metaJSON, _ := json.Marshal(QueueMetadata{})
	row := s.pool.QueryRow(ctx,
		`INSERT INTO delivery_queue_items
		 (organization_id, destination_id, delivery_id, correlation_id, idempotency_key, payload, priority, scheduled_at, next_retry_at, processed_at, status, retry_count, max_retries, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, NULL, 'pending', 0, $9, $10)
		 RETURNING `+queueColumns,
		p.OrganizationID, p.DestinationID, p.DeliveryID, p.CorrelationID, p.IdempotencyKey,
		p.Payload, p.Priority, p.ScheduledAt, p.MaxRetries, metaJSON,
	)
	item, err := scanQueueItem(row)
	if err != nil {
		return QueueItem{}, false, fmt.Errorf("enqueuing item: %w", err)
	}
	return item, true, nil
}

func (s *QueueStore) findNonTerminalByIdempotencyKey(ctx context.Context, orgID, destID uuid.UUID, key string) (QueueItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+queueColumns+` FROM delivery_queue_items
		 WHERE organization_id = $1 AND destination_id = $2 AND idempotency_key = $3 AND status != 'failed'
		 ORDER BY created_at DESC LIMIT 1`,
		orgID, destID, key,
	)
	return scanQueueItem(row)
}

// ClaimReady atomically selects up to batchSize pending, due rows ordered by
// (priority DESC, scheduledAt ASC) and marks them processing, so that each
// row is handed to at most one worker. FOR UPDATE SKIP LOCKED lets
// concurrent workers race the same table without blocking each other.
func (s *QueueStore) ClaimReady(ctx context.Context, batchSize int) ([]QueueItem, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT `+queueColumns+` FROM delivery_queue_items
		 WHERE status = 'pending'
		   AND scheduled_at <= now()
		   AND (next_retry_at IS NULL OR next_retry_at <= now())
		 ORDER BY priority DESC, scheduled_at ASC
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`,
		batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting ready items: %w", err)
	}
	claimed, err := scanQueueItems(rows)
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]uuid.UUID, len(claimed))
	for i, it := range claimed {
		ids[i] = it.ID
		claimed[i].Status = QueueProcessing
	}

	if _, err := tx.Exec(ctx,
		`UPDATE delivery_queue_items SET status = 'processing', updated_at = now() WHERE id = ANY($1)`,
		ids,
	); err != nil {
		return nil, fmt.Errorf("marking items processing: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing claim transaction: %w", err)
	}
	return claimed, nil
}

// Complete marks an item completed.
func (s *QueueStore) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE delivery_queue_items SET status = 'completed', processed_at = now(), updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("completing queue item: %w", err)
	}
	return nil
}

// ScheduleRetry reschedules an item for a future attempt, bumping retry_count.
func (s *QueueStore) ScheduleRetry(ctx context.Context, id uuid.UUID, nextRetryAt time.Time, meta QueueMetadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshalling queue metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE delivery_queue_items
		 SET status = 'pending', retry_count = retry_count + 1, next_retry_at = $2, metadata = $3, updated_at = now()
		 WHERE id = $1`,
		id, nextRetryAt, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("scheduling retry: %w", err)
	}
	return nil
}

// RescheduleNoAttempt reschedules an item without recording an attempt or
// bumping retry_count — used when the circuit breaker suppresses delivery.
func (s *QueueStore) RescheduleNoAttempt(ctx context.Context, id uuid.UUID, nextRetryAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE delivery_queue_items SET status = 'pending', next_retry_at = $2, updated_at = now() WHERE id = $1`,
		id, nextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("rescheduling item: %w", err)
	}
	return nil
}

// Fail marks an item terminally failed.
func (s *QueueStore) Fail(ctx context.Context, id uuid.UUID, meta QueueMetadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshalling queue metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE delivery_queue_items SET status = 'failed', processed_at = now(), metadata = $2, updated_at = now() WHERE id = $1`,
		id, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("failing queue item: %w", err)
	}
	return nil
}

// ResetRetryCount is an operator tool that zeroes retry_count and clears
// non-retryable bookkeeping, returning a failed item to pending immediately.
func (s *QueueStore) ResetRetryCount(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE delivery_queue_items
		 SET status = 'pending', retry_count = 0, next_retry_at = NULL, metadata = '{}', updated_at = now()
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("resetting retry count: %w", err)
	}
	return nil
}

// FindByDeliveryID returns the queue row for a given deliveryId, if any.
func (s *QueueStore) FindByDeliveryID(ctx context.Context, deliveryID uuid.UUID) (QueueItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+queueColumns+` FROM delivery_queue_items WHERE delivery_id = $1`,
		deliveryID,
	)
	return scanQueueItem(row)
}

// FindByStatus lists queue items in a given status for an organization.
func (s *QueueStore) FindByStatus(ctx context.Context, orgID uuid.UUID, status QueueStatus, limit int) ([]QueueItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+queueColumns+` FROM delivery_queue_items
		 WHERE organization_id = $1 AND status = $2
		 ORDER BY created_at DESC LIMIT $3`,
		orgID, status, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("finding items by status: %w", err)
	}
	return scanQueueItems(rows)
}

// RecoverStuck reclaims rows stuck in processing past the visibility
// timeout — a worker that died mid-attempt leaves its claim behind, and
// this sweep runs once at startup so those rows become eligible again.
func (s *QueueStore) RecoverStuck(ctx context.Context, visibilityTimeout time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE delivery_queue_items
		 SET status = 'pending', updated_at = now()
		 WHERE status = 'processing' AND updated_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(visibilityTimeout.Seconds())),
	)
	if err != nil {
		return 0, fmt.Errorf("recovering stuck items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountByStatus returns current queue depth per status, for metrics.
func (s *QueueStore) CountByStatus(ctx context.Context) (map[QueueStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM delivery_queue_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting queue depth: %w", err)
	}
	defer rows.Close()

	out := map[QueueStatus]int64{}
	for rows.Next() {
		var status QueueStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning queue depth row: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}
