package health

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/auditdelivery/internal/db"
)

// Store is the subset of internal/db's HealthStore that Monitor depends on.
type Store interface {
	Get(ctx context.Context, destinationID uuid.UUID) (db.DestinationHealth, error)
	Upsert(ctx context.Context, h db.DestinationHealth) (db.DestinationHealth, error)
	FindUnhealthy(ctx context.Context) ([]db.DestinationHealth, error)
}

// AlertNotifier is notified when a destination's circuit trips open, so an
// operator channel (Slack, in this deployment) can surface the event.
type AlertNotifier interface {
	NotifyCircuitOpen(ctx context.Context, destinationID uuid.UUID)
}

// Monitor updates per-destination health counters and drives the circuit
// breaker on every delivery outcome.
type Monitor struct {
	store    Store
	config   Config
	notifier AlertNotifier
}

// NewMonitor builds a Monitor. notifier may be nil to disable alerting.
func NewMonitor(store Store, config Config, notifier AlertNotifier) *Monitor {
	return &Monitor{store: store, config: config, notifier: notifier}
}

func (m *Monitor) load(ctx context.Context, destinationID uuid.UUID) (db.DestinationHealth, error) {
	h, err := m.store.Get(ctx, destinationID)
	if err != nil {
		return db.Zero(destinationID), nil
	}
	return h, nil
}

// Get returns the current health row for a destination, or a zero-value
// (healthy, closed-circuit) row if none has been recorded yet.
func (m *Monitor) Get(ctx context.Context, destinationID uuid.UUID) (db.DestinationHealth, error) {
	return m.load(ctx, destinationID)
}

// RecordSuccess resets the consecutive failure counter, updates totals and
// the rolling average response time, and advances the circuit breaker.
func (m *Monitor) RecordSuccess(ctx context.Context, destinationID uuid.UUID, responseTime time.Duration) error {
	h, err := m.load(ctx, destinationID)
	if err != nil {
		return err
	}

	h.TotalDeliveries++
	h.AverageResponseTimeMs = rollingAverage(h.AverageResponseTimeMs, h.TotalDeliveries, float64(responseTime.Milliseconds()))
	h.SuccessRate = successRate(h.TotalDeliveries, h.TotalFailures)
	h = m.config.transition(h, true, time.Now().UTC())
	h.Status = DeriveStatus(h, false)

	_, err = m.store.Upsert(ctx, h)
	if err != nil {
		return fmt.Errorf("health: recording success: %w", err)
	}
	return nil
}

// RecordFailure increments the failure counters and advances the circuit
// breaker, notifying the alert channel if this failure trips the circuit open.
func (m *Monitor) RecordFailure(ctx context.Context, destinationID uuid.UUID, failureErr error) error {
	h, err := m.load(ctx, destinationID)
	if err != nil {
		return err
	}

	h.TotalDeliveries++
	h.TotalFailures++
	h.SuccessRate = successRate(h.TotalDeliveries, h.TotalFailures)
	now := time.Now().UTC()
	h.LastFailureAt = &now

	wasOpen := h.CircuitBreakerState == db.CircuitOpen
	h = m.config.transition(h, false, now)
	h.Status = DeriveStatus(h, false)

	if _, err := m.store.Upsert(ctx, h); err != nil {
		return fmt.Errorf("health: recording failure: %w", err)
	}

	if !wasOpen && h.CircuitBreakerState == db.CircuitOpen && m.notifier != nil {
		m.notifier.NotifyCircuitOpen(ctx, destinationID)
	}
	return nil
}

// ShouldAllowDelivery reports whether a delivery attempt may proceed.
func (m *Monitor) ShouldAllowDelivery(ctx context.Context, destinationID uuid.UUID, disabled bool) (bool, error) {
	h, err := m.load(ctx, destinationID)
	if err != nil {
		return false, err
	}
	return m.config.ShouldAllowDelivery(h, disabled, time.Now().UTC()), nil
}

// FindUnhealthy lists destinations currently unhealthy or with an open circuit.
func (m *Monitor) FindUnhealthy(ctx context.Context) ([]db.DestinationHealth, error) {
	return m.store.FindUnhealthy(ctx)
}

func successRate(total, failures int64) float64 {
	if total == 0 {
		return 1
	}
	return float64(total-failures) / float64(total)
}

func rollingAverage(currentAvg float64, countAfter int64, sample float64) float64 {
	if countAfter <= 1 {
		return sample
	}
	return currentAvg + (sample-currentAvg)/float64(countAfter)
}
