package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/auditdelivery/internal/db"
)

// Store is the subset of internal/db's QueueStore that Manager depends on.
type Store interface {
	FindByDeliveryID(ctx context.Context, deliveryID uuid.UUID) (db.QueueItem, error)
	ScheduleRetry(ctx context.Context, id uuid.UUID, nextRetryAt time.Time, meta db.QueueMetadata) error
	Fail(ctx context.Context, id uuid.UUID, meta db.QueueMetadata) error
	Complete(ctx context.Context, id uuid.UUID) error
	ResetRetryCount(ctx context.Context, id uuid.UUID) error
}

// Manager applies backoff and classification policy to queue items.
type Manager struct {
	store  Store
	config Config
}

// NewManager builds a Manager with the given store and backoff config.
func NewManager(store Store, config Config) *Manager {
	return &Manager{store: store, config: config}
}

// Schedule describes the current retry state of a delivery, per
// getRetrySchedule.
type Schedule struct {
	CurrentAttempt int
	MaxAttempts    int
	NextRetryAt    *time.Time
	BackoffDelay   time.Duration
	TotalDelay     time.Duration
}

// GetRetrySchedule reports the current retry state for a delivery.
func (m *Manager) GetRetrySchedule(ctx context.Context, deliveryID uuid.UUID) (Schedule, error) {
	item, err := m.store.FindByDeliveryID(ctx, deliveryID)
	if err != nil {
		return Schedule{}, fmt.Errorf("retry: loading queue item: %w", err)
	}

	backoff := m.config.CalculateBackoff(item.RetryCount + 1)
	var total time.Duration
	for n := 1; n <= item.RetryCount+1; n++ {
		total += m.config.CalculateBackoff(n)
	}

	return Schedule{
		CurrentAttempt: item.RetryCount,
		MaxAttempts:    item.MaxRetries,
		NextRetryAt:    item.NextRetryAt,
		BackoffDelay:   backoff,
		TotalDelay:     total,
	}, nil
}

// RecordAttempt updates the queue row's status and retry bookkeeping after a
// delivery attempt. When success is false, retryable decides whether the
// item is rescheduled or marked terminally failed; callers pass the
// handler's own DeliveryResult.Retryable when the failure came from a
// handler call (it has seen the HTTP status or SDK error directly). Failures
// the processor detects before a handler runs (no destination, no handler
// registered, corrupt payload) go through MarkAsNonRetryable instead.
func (m *Manager) RecordAttempt(ctx context.Context, item db.QueueItem, success bool, attemptErr error, retryable bool, durationMs int64) error {
	attempt := db.RetryAttempt{
		AttemptedAt: time.Now().UTC(),
		Success:     success,
		DurationMs:  durationMs,
	}
	if attemptErr != nil {
		attempt.Error = attemptErr.Error()
	}

	meta := item.Metadata
	meta.RetryAttempts = append(meta.RetryAttempts, attempt)

	if success {
		return m.store.Complete(ctx, item.ID)
	}

	if !retryable || item.RetryCount >= item.MaxRetries {
		meta.NonRetryable = true
		meta.NonRetryableReason = ClassifyError(attemptErr).Reason
		return m.store.Fail(ctx, item.ID, meta)
	}

	delay := m.config.CalculateBackoff(item.RetryCount + 1)
	nextRetryAt := time.Now().UTC().Add(delay)
	return m.store.ScheduleRetry(ctx, item.ID, nextRetryAt, meta)
}

// ShouldRetry reports whether another attempt should be made for the given
// error given the item's current attempt count.
func (m *Manager) ShouldRetry(item db.QueueItem, attemptErr error) bool {
	if item.RetryCount >= item.MaxRetries {
		return false
	}
	return ClassifyError(attemptErr).Retryable
}

// MarkAsNonRetryable is an operator tool that force-fails an item regardless
// of its current retry count.
func (m *Manager) MarkAsNonRetryable(ctx context.Context, item db.QueueItem, reason string) error {
	meta := item.Metadata
	meta.NonRetryable = true
	meta.NonRetryableReason = reason
	return m.store.Fail(ctx, item.ID, meta)
}

// ResetRetryCount is an operator tool that returns a failed item to pending
// with a clean retry count.
func (m *Manager) ResetRetryCount(ctx context.Context, id uuid.UUID) error {
	return m.store.ResetRetryCount(ctx, id)
}
