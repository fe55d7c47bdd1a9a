// Package delivery implements the Delivery Service Facade (C8): it
// aggregates the persistence gateway, secret manager, retry manager, health
// monitor, handler registry, queue processor, and download manager behind a
// single entry point used by both the admin HTTP API and the worker
// process. No caller outside this package holds a direct reference to more
// than one of those collaborators.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/auditdelivery/internal/db"
	"github.com/wisbric/auditdelivery/pkg/download"
	"github.com/wisbric/auditdelivery/pkg/handler"
	"github.com/wisbric/auditdelivery/pkg/health"
	"github.com/wisbric/auditdelivery/pkg/queue"
	"github.com/wisbric/auditdelivery/pkg/retry"
	"github.com/wisbric/auditdelivery/pkg/secret"
)

// DestinationStore is the subset of db.DestinationStore the facade depends on.
type DestinationStore interface {
	List(ctx context.Context, orgID uuid.UUID) ([]db.Destination, error)
	ListPage(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]db.Destination, int, error)
	Get(ctx context.Context, orgID, id uuid.UUID) (db.Destination, error)
	Create(ctx context.Context, p db.CreateDestinationParams) (db.Destination, error)
	Update(ctx context.Context, orgID, id uuid.UUID, config json.RawMessage) (db.Destination, error)
	Disable(ctx context.Context, orgID, id uuid.UUID, disabledBy string) error
}

// QueueStore is the subset of db.QueueStore the facade depends on, beyond
// what the embedded Processor already uses for claiming.
type QueueStore interface {
	Enqueue(ctx context.Context, p db.EnqueueParams) (db.QueueItem, bool, error)
	FindByDeliveryID(ctx context.Context, deliveryID uuid.UUID) (db.QueueItem, error)
	FindByStatus(ctx context.Context, orgID uuid.UUID, status db.QueueStatus, limit int) ([]db.QueueItem, error)
	CountByStatus(ctx context.Context) (map[db.QueueStatus]int64, error)
}

// DeliveryLogStore is the subset of db.DeliveryLogStore the facade depends on.
type DeliveryLogStore interface {
	Get(ctx context.Context, deliveryID uuid.UUID) (db.DeliveryLog, error)
}

// Config holds the facade's enqueue defaults, sourced from config.Config.
type Config struct {
	DefaultMaxRetries int
	DefaultPriority   int

	// SecretCleanupInterval and DownloadCleanupInterval drive Start's
	// background sweeps; zero disables the respective sweep.
	SecretCleanupInterval   time.Duration
	DownloadCleanupInterval time.Duration
}

// Service is the Delivery Service Facade: destination CRUD and validation,
// enqueue, delivery/health/queue introspection, and start/stop lifecycle for
// the queue processor and its background sweeps.
type Service struct {
	destinations DestinationStore
	queueStore   QueueStore
	logs         DeliveryLogStore

	registry  *handler.Registry
	secrets   *secret.Manager
	retryMgr  *retry.Manager
	health    *health.Monitor
	downloads *download.Manager
	processor *queue.Processor

	cfg    Config
	logger *slog.Logger

	stopSweeps context.CancelFunc
	stopped    chan struct{}
}

// New builds a Service wiring together every collaborator. processor may be
// nil in contexts that only need CRUD/introspection (e.g. a one-off admin
// tool) — Start and Stop become no-ops for the processor in that case.
func New(
	destinations DestinationStore,
	queueStore QueueStore,
	logs DeliveryLogStore,
	registry *handler.Registry,
	secrets *secret.Manager,
	retryMgr *retry.Manager,
	monitor *health.Monitor,
	downloads *download.Manager,
	processor *queue.Processor,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = retry.DefaultConfig().MaxRetries
	}
	return &Service{
		destinations: destinations,
		queueStore:   queueStore,
		logs:         logs,
		registry:     registry,
		secrets:      secrets,
		retryMgr:     retryMgr,
		health:       monitor,
		downloads:    downloads,
		processor:    processor,
		cfg:          cfg,
		logger:       logger,
	}
}

// --- Destination CRUD ---

// ListDestinations returns every destination owned by orgID.
func (s *Service) ListDestinations(ctx context.Context, orgID uuid.UUID) ([]db.Destination, error) {
	return s.destinations.List(ctx, orgID)
}

// ListDestinationsPage returns one page of orgID's destinations plus the
// total row count, for callers that want bounded, page-able responses.
func (s *Service) ListDestinationsPage(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]db.Destination, int, error) {
	return s.destinations.ListPage(ctx, orgID, limit, offset)
}

// GetDestination returns one destination, translating a missing row to
// ErrDestinationNotFound.
func (s *Service) GetDestination(ctx context.Context, orgID, id uuid.UUID) (db.Destination, error) {
	dest, err := s.destinations.Get(ctx, orgID, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.Destination{}, ErrDestinationNotFound
		}
		return db.Destination{}, fmt.Errorf("delivery: loading destination: %w", err)
	}
	return dest, nil
}

// CreateDestination validates the config against its type's handler, then
// persists the destination. It never enqueues anything.
func (s *Service) CreateDestination(ctx context.Context, orgID uuid.UUID, label string, destType db.DestinationType, config json.RawMessage) (db.Destination, error) {
	h, err := s.registry.Get(destType)
	if err != nil {
		return db.Destination{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if v := h.ValidateConfig(config); !v.Valid {
		return db.Destination{}, fmt.Errorf("%w: %v", ErrInvalidConfig, v.Errors)
	}

	dest, err := s.destinations.Create(ctx, db.CreateDestinationParams{
		OrganizationID: orgID,
		Label:          label,
		Type:           destType,
		Config:         config,
	})
	if err != nil {
		return db.Destination{}, fmt.Errorf("delivery: creating destination: %w", err)
	}
	return dest, nil
}

// UpdateDestination re-validates and replaces a destination's config in place.
func (s *Service) UpdateDestination(ctx context.Context, orgID, id uuid.UUID, destType db.DestinationType, config json.RawMessage) (db.Destination, error) {
	h, err := s.registry.Get(destType)
	if err != nil {
		return db.Destination{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if v := h.ValidateConfig(config); !v.Valid {
		return db.Destination{}, fmt.Errorf("%w: %v", ErrInvalidConfig, v.Errors)
	}

	dest, err := s.destinations.Update(ctx, orgID, id, config)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.Destination{}, ErrDestinationNotFound
		}
		return db.Destination{}, fmt.Errorf("delivery: updating destination: %w", err)
	}
	return dest, nil
}

// DisableDestination soft-disables a destination. Deletion is never
// performed; this is the only lifecycle-ending operation exposed.
func (s *Service) DisableDestination(ctx context.Context, orgID, id uuid.UUID, disabledBy string) error {
	if err := s.destinations.Disable(ctx, orgID, id, disabledBy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDestinationNotFound
		}
		return fmt.Errorf("delivery: disabling destination: %w", err)
	}
	return nil
}

// ValidateDestinationConfig runs a destination type's ValidateConfig without
// persisting anything, for admin pre-flight checks.
func (s *Service) ValidateDestinationConfig(destType db.DestinationType, config json.RawMessage) (handler.ConfigValidation, error) {
	h, err := s.registry.Get(destType)
	if err != nil {
		return handler.ConfigValidation{}, err
	}
	return h.ValidateConfig(config), nil
}

// TestConnection probes a destination's configured endpoint without
// enqueuing a delivery.
func (s *Service) TestConnection(ctx context.Context, destType db.DestinationType, config json.RawMessage) (handler.ConnectionTestResult, error) {
	h, err := s.registry.Get(destType)
	if err != nil {
		return handler.ConnectionTestResult{}, err
	}
	return h.TestConnection(ctx, config), nil
}

// --- Enqueue & status ---

// EnqueuePayload is the minimal shape a producer supplies to Enqueue; the
// facade assigns DeliveryID and ScheduledAt if the caller leaves them zero.
type EnqueuePayload struct {
	DeliveryID     uuid.UUID
	Type           string
	Data           json.RawMessage
	Metadata       json.RawMessage
	CorrelationID  string
	IdempotencyKey string
	Priority       int
	ScheduledAt    time.Time
	MaxRetries     int
}

// EnqueueResult reports the claimed queue row id and whether it was newly
// created (false means a non-terminal row already existed for this
// idempotency key and no new attempt chain was created).
type EnqueueResult struct {
	QueueItemID uuid.UUID
	DeliveryID  uuid.UUID
	Created     bool
}

// Enqueue validates the destination is usable, then submits the payload to
// the queue. A duplicate (organizationId, destinationId, idempotencyKey)
// against a non-terminal row returns the existing row's id with Created=false
// rather than an error — the idempotent-enqueue invariant.
func (s *Service) Enqueue(ctx context.Context, orgID, destinationID uuid.UUID, p EnqueuePayload) (EnqueueResult, error) {
	dest, err := s.destinations.Get(ctx, orgID, destinationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EnqueueResult{}, ErrDestinationNotFound
		}
		return EnqueueResult{}, fmt.Errorf("delivery: loading destination: %w", err)
	}
	if dest.Disabled {
		return EnqueueResult{}, ErrDestinationDisabled
	}

	if p.DeliveryID == uuid.Nil {
		p.DeliveryID = uuid.New()
	}
	if p.ScheduledAt.IsZero() {
		p.ScheduledAt = time.Now().UTC()
	}
	priority := p.Priority
	if priority < 0 {
		priority = 0
	}
	if priority > 10 {
		priority = 10
	}
	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.cfg.DefaultMaxRetries
	}

	payloadJSON, err := json.Marshal(queue.EventPayload{
		Type:     p.Type,
		Data:     p.Data,
		Metadata: p.Metadata,
	})
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("delivery: encoding queued payload: %w", err)
	}

	var correlationID, idempotencyKey *string
	if p.CorrelationID != "" {
		correlationID = &p.CorrelationID
	}
	if p.IdempotencyKey != "" {
		idempotencyKey = &p.IdempotencyKey
	}

	item, created, err := s.queueStore.Enqueue(ctx, db.EnqueueParams{
		OrganizationID: orgID,
		DestinationID:  destinationID,
		DeliveryID:     p.DeliveryID,
		CorrelationID:  correlationID,
		IdempotencyKey: idempotencyKey,
		Payload:        payloadJSON,
		Priority:       priority,
		ScheduledAt:    p.ScheduledAt,
		MaxRetries:     maxRetries,
	})
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("delivery: enqueuing: %w", err)
	}

	return EnqueueResult{QueueItemID: item.ID, DeliveryID: item.DeliveryID, Created: created}, nil
}

// GetDeliveryStatus returns the queue row and audit log for a delivery id.
func (s *Service) GetDeliveryStatus(ctx context.Context, deliveryID uuid.UUID) (db.QueueItem, db.DeliveryLog, error) {
	item, err := s.queueStore.FindByDeliveryID(ctx, deliveryID)
	if err != nil {
		return db.QueueItem{}, db.DeliveryLog{}, fmt.Errorf("delivery: loading queue item: %w", err)
	}
	logRow, err := s.logs.Get(ctx, deliveryID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return item, db.DeliveryLog{}, fmt.Errorf("delivery: loading delivery log: %w", err)
	}
	return item, logRow, nil
}

// GetRetrySchedule exposes the retry manager's schedule computation to callers.
func (s *Service) GetRetrySchedule(ctx context.Context, deliveryID uuid.UUID) (retry.Schedule, error) {
	return s.retryMgr.GetRetrySchedule(ctx, deliveryID)
}

// ListByStatus lists queue items in a given state for an organization.
func (s *Service) ListByStatus(ctx context.Context, orgID uuid.UUID, status db.QueueStatus, limit int) ([]db.QueueItem, error) {
	return s.queueStore.FindByStatus(ctx, orgID, status, limit)
}

// QueueDepth returns the count of queue items per status across all organizations.
func (s *Service) QueueDepth(ctx context.Context) (map[db.QueueStatus]int64, error) {
	return s.queueStore.CountByStatus(ctx)
}

// --- Health ---

// GetHealth returns the current health row for a destination.
func (s *Service) GetHealth(ctx context.Context, destinationID uuid.UUID) (db.DestinationHealth, error) {
	return s.health.Get(ctx, destinationID)
}

// ListUnhealthy returns destinations currently unhealthy or with an open circuit.
func (s *Service) ListUnhealthy(ctx context.Context) ([]db.DestinationHealth, error) {
	return s.health.FindUnhealthy(ctx)
}

// RecordDeliverySuccess and RecordDeliveryFailure are operator/test
// convenience wrappers around the health monitor, for callers that bypass
// the queue processor (e.g. backfilling health state, or test harnesses).
func (s *Service) RecordDeliverySuccess(ctx context.Context, destinationID uuid.UUID, responseTime time.Duration) error {
	return s.health.RecordSuccess(ctx, destinationID, responseTime)
}

func (s *Service) RecordDeliveryFailure(ctx context.Context, destinationID uuid.UUID, failureErr error) error {
	return s.health.RecordFailure(ctx, destinationID, failureErr)
}

// --- Operator tools (retry manager passthrough) ---

// ResetRetryCount returns a failed queue item to pending with a clean retry count.
func (s *Service) ResetRetryCount(ctx context.Context, queueItemID uuid.UUID) error {
	return s.retryMgr.ResetRetryCount(ctx, queueItemID)
}

// MarkAsNonRetryable force-fails a queue item regardless of its attempt count.
func (s *Service) MarkAsNonRetryable(ctx context.Context, item db.QueueItem, reason string) error {
	return s.retryMgr.MarkAsNonRetryable(ctx, item, reason)
}

// --- Secrets ---

// CreateWebhookSecret delegates to the secret manager; destType is not
// checked here (callers are expected to only call this for webhook
// destinations, same as the BYOS/rotation operations below).
func (s *Service) CreateWebhookSecret(ctx context.Context, destinationID uuid.UUID, opts secret.CreateOptions) (secret.Secret, error) {
	return s.secrets.CreateSecret(ctx, destinationID, opts)
}

func (s *Service) RotateWebhookSecret(ctx context.Context, destinationID uuid.UUID, opts secret.RotateOptions) (secret.Secret, error) {
	return s.secrets.RotateSecret(ctx, destinationID, opts)
}

func (s *Service) ConfigureBYOS(ctx context.Context, destinationID uuid.UUID, opts secret.BYOSOptions) (secret.Secret, error) {
	return s.secrets.ConfigureBYOS(ctx, destinationID, opts)
}

func (s *Service) GetActiveSecrets(ctx context.Context, destinationID uuid.UUID) ([]secret.Secret, error) {
	return s.secrets.GetActiveSecrets(ctx, destinationID)
}

// --- Download links ---

// Downloads exposes the download manager for handlers that need direct
// access validation/analytics beyond what the facade wraps.
func (s *Service) Downloads() *download.Manager {
	return s.downloads
}

// --- Lifecycle ---

// Start launches the queue processor's poll loop and the background
// cleanup sweeps (expired secrets, expired download links). It blocks until
// ctx is cancelled or the processor returns an error.
func (s *Service) Start(ctx context.Context) error {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.stopSweeps = cancel
	s.stopped = make(chan struct{})

	go s.runSweeps(sweepCtx)

	if s.processor == nil {
		<-ctx.Done()
		return nil
	}
	return s.processor.Run(ctx)
}

// Stop cancels the background sweeps. The queue processor's own drain
// behavior is triggered by cancelling the context passed to Start/Run; Stop
// here only tears down sweeps that aren't tied to that same context (e.g.
// when the caller runs Start in a goroutine with a separate lifecycle).
func (s *Service) Stop() {
	if s.stopSweeps != nil {
		s.stopSweeps()
	}
}

func (s *Service) runSweeps(ctx context.Context) {
	defer close(s.stopped)

	secretInterval := s.cfg.SecretCleanupInterval
	downloadInterval := s.cfg.DownloadCleanupInterval
	if downloadInterval <= 0 {
		downloadInterval = download.DefaultCleanupInterval
	}

	var secretTicker, downloadTicker *time.Ticker
	if secretInterval > 0 {
		secretTicker = time.NewTicker(secretInterval)
		defer secretTicker.Stop()
	}
	downloadTicker = time.NewTicker(downloadInterval)
	defer downloadTicker.Stop()

	secretCh := func() <-chan time.Time {
		if secretTicker == nil {
			return nil
		}
		return secretTicker.C
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-secretCh:
			if n, err := s.secrets.CleanupExpiredSecrets(ctx); err != nil {
				s.logger.Error("cleaning up expired secrets", "error", err)
			} else if n > 0 {
				s.logger.Info("cleaned up expired secrets", "count", n)
			}
		case <-downloadTicker.C:
			if n, err := s.downloads.CleanupExpiredLinks(ctx); err != nil {
				s.logger.Error("cleaning up expired download links", "error", err)
			} else if n > 0 {
				s.logger.Info("cleaned up expired download links", "bytesFreed", n)
			}
		}
	}
}

// HealthCheckResult is the outcome of HealthCheck: the unhealthy-destination
// count measured against a threshold, so operators can alert on partial
// outages before they cascade into a full one. It carries no database
// reachability signal.
type HealthCheckResult struct {
	Healthy            bool
	UnhealthyCount     int
	UnhealthyThreshold int
}

// HealthCheck reports aggregate system health: unhealthy once the number of
// destinations in an unhealthy/open-circuit state reaches threshold (a
// threshold of zero or less is treated as 1).
func (s *Service) HealthCheck(ctx context.Context, threshold int) (HealthCheckResult, error) {
	unhealthy, err := s.health.FindUnhealthy(ctx)
	if err != nil {
		return HealthCheckResult{}, fmt.Errorf("delivery: checking health: %w", err)
	}
	if threshold <= 0 {
		threshold = 1
	}
	return HealthCheckResult{
		Healthy:            len(unhealthy) < threshold,
		UnhealthyCount:     len(unhealthy),
		UnhealthyThreshold: threshold,
	}, nil
}
