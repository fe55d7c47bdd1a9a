// Package queue implements the Queue Processor (C7): a bounded pool of
// workers that poll the persistent delivery queue, dispatch claimed items to
// their destination's handler, and record the outcome through the retry
// manager, health monitor, and delivery log.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wisbric/auditdelivery/internal/db"
	"github.com/wisbric/auditdelivery/pkg/handler"
	"github.com/wisbric/auditdelivery/pkg/health"
	"github.com/wisbric/auditdelivery/pkg/retry"
)

// EventPayload is the recognized shape of a QueueItem's stored payload: the
// event type, arbitrary event data, and optional delivery metadata.
type EventPayload struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// QueueStore is the subset of db.QueueStore the processor depends on.
type QueueStore interface {
	ClaimReady(ctx context.Context, batchSize int) ([]db.QueueItem, error)
	RescheduleNoAttempt(ctx context.Context, id uuid.UUID, nextRetryAt time.Time) error
	RecoverStuck(ctx context.Context, visibilityTimeout time.Duration) (int64, error)
}

// DestinationStore is the subset of db.DestinationStore the processor
// depends on, to resolve a queue item's destination config and type.
type DestinationStore interface {
	Get(ctx context.Context, orgID, id uuid.UUID) (db.Destination, error)
	RecordUsage(ctx context.Context, id uuid.UUID, at time.Time) error
}

// DeliveryLogStore is the subset of db.DeliveryLogStore the processor
// depends on.
type DeliveryLogStore interface {
	Append(ctx context.Context, p db.AppendParams) (db.DeliveryLog, error)
}

// Metrics is the subset of telemetry counters the processor updates.
type Metrics struct {
	AttemptsTotal  *prometheus.CounterVec // labels: destination_type, outcome
	LatencySeconds *prometheus.HistogramVec
	QueueDepth     *prometheus.GaugeVec
}

// Config holds the processor's concurrency and polling tunables.
type Config struct {
	Workers           int
	BatchSize         int
	PollInterval      time.Duration
	DrainTimeout      time.Duration
	VisibilityTimeout time.Duration
	// SuppressedRetryDelay is how far out a circuit-suppressed item is
	// rescheduled without counting as a recorded attempt.
	SuppressedRetryDelay time.Duration
}

// Processor claims ready queue items and dispatches them to handlers,
// applying retry and circuit-breaker policy to the outcome.
type Processor struct {
	queue        QueueStore
	destinations DestinationStore
	logs         DeliveryLogStore
	registry     *handler.Registry
	retryMgr     *retry.Manager
	health       *health.Monitor
	metrics      *Metrics
	logger       *slog.Logger
	config       Config

	items chan db.QueueItem
	done  chan struct{}
}

// New builds a Processor wiring together the persistence gateway, handler
// registry, retry manager, and health monitor.
func New(
	queueStore QueueStore,
	destinations DestinationStore,
	logs DeliveryLogStore,
	registry *handler.Registry,
	retryMgr *retry.Manager,
	monitor *health.Monitor,
	metrics *Metrics,
	logger *slog.Logger,
	config Config,
) *Processor {
	if config.Workers <= 0 {
		config.Workers = 8
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 25
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 500 * time.Millisecond
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = 30 * time.Second
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = 2 * time.Minute
	}
	if config.SuppressedRetryDelay <= 0 {
		config.SuppressedRetryDelay = 30 * time.Second
	}

	return &Processor{
		queue:        queueStore,
		destinations: destinations,
		logs:         logs,
		registry:     registry,
		retryMgr:     retryMgr,
		health:       monitor,
		metrics:      metrics,
		logger:       logger,
		config:       config,
		items:        make(chan db.QueueItem, config.BatchSize),
		done:         make(chan struct{}),
	}
}

// Run starts the poll loop and worker pool. It blocks until ctx is
// cancelled, then drains in-flight dispatches up to config.DrainTimeout
// before returning.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Info("queue processor starting",
		"workers", p.config.Workers, "batchSize", p.config.BatchSize, "pollInterval", p.config.PollInterval)

	if n, err := p.queue.RecoverStuck(ctx, p.config.VisibilityTimeout); err != nil {
		p.logger.Error("recovering stuck queue items", "error", err)
	} else if n > 0 {
		p.logger.Info("recovered stuck queue items", "count", n)
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	var wg sync.WaitGroup
	for i := 0; i < p.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(workerCtx)
		}()
	}
	go func() {
		wg.Wait()
		close(p.done)
	}()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("queue processor stopping, draining in-flight attempts")
			p.drain(cancelWorkers)
			return nil
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				p.logger.Error("polling queue", "error", err)
			}
		}
	}
}

// drain stops accepting new items and waits up to DrainTimeout for the
// worker pool to finish in-flight dispatches before cancelling them.
func (p *Processor) drain(cancelWorkers context.CancelFunc) {
	close(p.items)
	select {
	case <-p.done:
	case <-time.After(p.config.DrainTimeout):
		p.logger.Warn("drain timeout exceeded, cancelling in-flight attempts")
		cancelWorkers()
	}
}

// poll claims a batch of ready items and hands each to the worker pool,
// skipping dispatch (via a no-attempt reschedule) for destinations whose
// circuit breaker currently suppresses delivery.
func (p *Processor) poll(ctx context.Context) error {
	claimed, err := p.queue.ClaimReady(ctx, p.config.BatchSize)
	if err != nil {
		return fmt.Errorf("claiming ready items: %w", err)
	}

	for _, item := range claimed {
		dest, err := p.destinations.Get(ctx, item.OrganizationID, item.DestinationID)
		if err != nil {
			p.logger.Error("loading destination for claimed item", "itemId", item.ID, "error", err)
			continue
		}

		allowed, err := p.health.ShouldAllowDelivery(ctx, item.DestinationID, dest.Disabled)
		if err != nil {
			p.logger.Error("checking circuit breaker state", "destinationId", item.DestinationID, "error", err)
		}
		if err == nil && !allowed {
			if rerr := p.queue.RescheduleNoAttempt(ctx, item.ID, time.Now().UTC().Add(p.config.SuppressedRetryDelay)); rerr != nil {
				p.logger.Error("rescheduling suppressed item", "itemId", item.ID, "error", rerr)
			}
			continue
		}

		select {
		case p.items <- item:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func (p *Processor) worker(ctx context.Context) {
	for item := range p.items {
		p.dispatch(ctx, item)
	}
}

// dispatch resolves the claimed item's destination and handler, delivers
// the payload, and records the outcome through the retry manager, health
// monitor, and delivery log — steps 1-5 of the scheduling contract.
func (p *Processor) dispatch(ctx context.Context, item db.QueueItem) {
	dest, err := p.destinations.Get(ctx, item.OrganizationID, item.DestinationID)
	if err != nil {
		p.logger.Error("dispatch: loading destination", "itemId", item.ID, "error", err)
		p.failNonRetryable(ctx, item, item.DestinationID, "destination not found")
		return
	}

	if dest.Disabled {
		p.failNonRetryable(ctx, item, dest.ID, "destination disabled")
		return
	}

	h, err := p.registry.Get(dest.Type)
	if err != nil {
		p.failNonRetryable(ctx, item, dest.ID, err.Error())
		return
	}

	var evt EventPayload
	if err := json.Unmarshal(item.Payload, &evt); err != nil {
		p.failNonRetryable(ctx, item, dest.ID, fmt.Sprintf("decoding queued payload: %v", err))
		return
	}

	payload := handler.Payload{
		DeliveryID:     item.DeliveryID,
		OrganizationID: item.OrganizationID,
		DestinationID:  dest.ID,
		Type:           evt.Type,
		Data:           evt.Data,
		Metadata:       evt.Metadata,
		CorrelationID:  derefString(item.CorrelationID),
		IdempotencyKey: derefString(item.IdempotencyKey),
	}

	destType := string(dest.Type)
	start := time.Now()
	result := h.Deliver(ctx, payload, dest.Config)
	duration := time.Since(start)

	if err := p.destinations.RecordUsage(ctx, dest.ID, time.Now().UTC()); err != nil {
		p.logger.Error("recording destination usage", "destinationId", dest.ID, "error", err)
	}

	if p.metrics != nil {
		outcome := "success"
		if !result.Success {
			outcome = "failure"
		}
		if p.metrics.AttemptsTotal != nil {
			p.metrics.AttemptsTotal.WithLabelValues(destType, outcome).Inc()
		}
		if p.metrics.LatencySeconds != nil {
			p.metrics.LatencySeconds.WithLabelValues(destType).Observe(duration.Seconds())
		}
	}

	if result.Success {
		p.recordSuccess(ctx, item, dest.ID, destType, result, duration)
		return
	}

	var attemptErr error
	if result.Error != "" {
		attemptErr = errors.New(result.Error)
	}
	p.recordFailure(ctx, item, dest.ID, destType, result, attemptErr, duration)
}

func (p *Processor) recordSuccess(ctx context.Context, item db.QueueItem, destinationID uuid.UUID, destType string, result handler.DeliveryResult, duration time.Duration) {
	if err := p.retryMgr.RecordAttempt(ctx, item, true, nil, true, duration.Milliseconds()); err != nil {
		p.logger.Error("recording successful attempt", "itemId", item.ID, "error", err)
	}
	if err := p.health.RecordSuccess(ctx, destinationID, duration); err != nil {
		p.logger.Error("recording health success", "destinationId", destinationID, "error", err)
	}
	if _, err := p.logs.Append(ctx, db.AppendParams{
		DeliveryID:           item.DeliveryID,
		OrganizationID:       item.OrganizationID,
		DestinationID:        destinationID,
		Success:              true,
		Status:               db.QueueCompleted,
		CrossSystemReference: result.CrossSystemReference,
		At:                   time.Now().UTC(),
	}); err != nil {
		p.logger.Error("appending delivery log", "deliveryId", item.DeliveryID, "error", err)
	}
	p.logger.Info("delivery succeeded", "deliveryId", item.DeliveryID, "destinationId", destinationID, "destinationType", destType)
}

func (p *Processor) recordFailure(ctx context.Context, item db.QueueItem, destinationID uuid.UUID, destType string, result handler.DeliveryResult, attemptErr error, duration time.Duration) {
	terminal := !result.Retryable || item.RetryCount >= item.MaxRetries

	if err := p.retryMgr.RecordAttempt(ctx, item, false, attemptErr, result.Retryable, duration.Milliseconds()); err != nil {
		p.logger.Error("recording failed attempt", "itemId", item.ID, "error", err)
	}
	if err := p.health.RecordFailure(ctx, destinationID, attemptErr); err != nil {
		p.logger.Error("recording health failure", "destinationId", destinationID, "error", err)
	}

	status := db.QueuePending
	if terminal {
		status = db.QueueFailed
	}
	if _, err := p.logs.Append(ctx, db.AppendParams{
		DeliveryID:     item.DeliveryID,
		OrganizationID: item.OrganizationID,
		DestinationID:  destinationID,
		Success:        false,
		Status:         status,
		FailureReason:  result.Error,
		At:             time.Now().UTC(),
	}); err != nil {
		p.logger.Error("appending delivery log", "deliveryId", item.DeliveryID, "error", err)
	}

	p.logger.Warn("delivery attempt failed", "deliveryId", item.DeliveryID, "destinationId", destinationID,
		"destinationType", destType, "retryable", result.Retryable, "terminal", terminal, "error", result.Error)
}

// failNonRetryable marks a claimed item terminally failed without ever
// invoking a handler — used when the item cannot even be dispatched (no
// destination, destination disabled, no handler registered, corrupt payload).
func (p *Processor) failNonRetryable(ctx context.Context, item db.QueueItem, destinationID uuid.UUID, reason string) {
	if err := p.retryMgr.MarkAsNonRetryable(ctx, item, reason); err != nil {
		p.logger.Error("marking item non-retryable", "itemId", item.ID, "error", err)
	}
	if _, err := p.logs.Append(ctx, db.AppendParams{
		DeliveryID:     item.DeliveryID,
		OrganizationID: item.OrganizationID,
		DestinationID:  destinationID,
		Success:        false,
		Status:         db.QueueFailed,
		FailureReason:  reason,
		At:             time.Now().UTC(),
	}); err != nil {
		p.logger.Error("appending delivery log", "deliveryId", item.DeliveryID, "error", err)
	}
	p.logger.Warn("delivery attempt rejected before dispatch", "deliveryId", item.DeliveryID, "destinationId", destinationID, "reason", reason)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
