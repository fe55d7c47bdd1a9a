// Package db is the Persistence Gateway: typed repositories over Postgres
// for destinations, the delivery queue, delivery logs, destination health,
// webhook secrets, download links, and admin API keys. All other
// components read snapshots and submit writes through these repositories;
// nothing outside this package issues SQL.
package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DestinationType enumerates the supported delivery protocols.
type DestinationType string

const (
	DestinationWebhook  DestinationType = "webhook"
	DestinationEmail    DestinationType = "email"
	DestinationSFTP     DestinationType = "sftp"
	DestinationStorage  DestinationType = "storage"
	DestinationDownload DestinationType = "download"
)

// QueueStatus is the lifecycle state of a QueueItem.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// CircuitState is the per-destination circuit breaker state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// HealthStatus is the derived health classification of a destination.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthDisabled HealthStatus = "disabled"
)

// Destination is a configured delivery endpoint owned by an organization.
type Destination struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Label          string
	Type           DestinationType
	Config         json.RawMessage
	Disabled       bool
	DisabledAt     *time.Time
	DisabledBy     *string
	CountUsage     int64
	LastUsedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RetryAttempt records a single delivery attempt embedded in QueueItem.Metadata.
type RetryAttempt struct {
	AttemptedAt time.Time `json:"attemptedAt"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"durationMs"`
}

// QueueMetadata is the recognized shape of QueueItem.Metadata; unrecognized
// keys round-trip through the Extra bag.
type QueueMetadata struct {
	RetryAttempts      []RetryAttempt `json:"retryAttempts,omitempty"`
	NonRetryable       bool           `json:"nonRetryable,omitempty"`
	NonRetryableReason string         `json:"nonRetryableReason,omitempty"`
	Extra              map[string]any `json:"-"`
}

// MarshalJSON flattens Extra alongside the well-known fields.
func (m QueueMetadata) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	for k, v := range m.Extra {
		out[k] = v
	}
	if len(m.RetryAttempts) > 0 {
		out["retryAttempts"] = m.RetryAttempts
	}
	if m.NonRetryable {
		out["nonRetryable"] = m.NonRetryable
	}
	if m.NonRetryableReason != "" {
		out["nonRetryableReason"] = m.NonRetryableReason
	}
	return json.Marshal(out)
}

// UnmarshalJSON extracts well-known fields and retains the rest in Extra.
func (m *QueueMetadata) UnmarshalJSON(b []byte) error {
	raw := map[string]any{}
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if v, ok := raw["retryAttempts"]; ok {
		reenc, _ := json.Marshal(v)
		_ = json.Unmarshal(reenc, &m.RetryAttempts)
		delete(raw, "retryAttempts")
	}
	if v, ok := raw["nonRetryable"].(bool); ok {
		m.NonRetryable = v
		delete(raw, "nonRetryable")
	}
	if v, ok := raw["nonRetryableReason"].(string); ok {
		m.NonRetryableReason = v
		delete(raw, "nonRetryableReason")
	}
	m.Extra = raw
	return nil
}

// QueueItem is one attempt chain for a (payload, destination) pair.
type QueueItem struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	DestinationID  uuid.UUID
	DeliveryID     uuid.UUID
	CorrelationID  *string
	IdempotencyKey *string
	Payload        json.RawMessage
	Priority       int
	ScheduledAt    time.Time
	NextRetryAt    *time.Time
	ProcessedAt    *time.Time
	Status         QueueStatus
	RetryCount     int
	MaxRetries     int
	Metadata       QueueMetadata
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DeliveryLogAttempt is one entry in DeliveryLog.Attempts.
type DeliveryLogAttempt struct {
	At      time.Time `json:"at"`
	Success bool      `json:"success"`
}

// DeliveryLog is the audit trail for one deliveryId, possibly spanning retries.
type DeliveryLog struct {
	DeliveryID            uuid.UUID
	OrganizationID         uuid.UUID
	DestinationID          uuid.UUID
	Attempts               []DeliveryLogAttempt
	Status                 QueueStatus
	LastAttemptAt          *time.Time
	DeliveredAt            *time.Time
	FailureReason          string
	CrossSystemReference   string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// DestinationHealth tracks rolling success/failure accounting and circuit state.
type DestinationHealth struct {
	DestinationID          uuid.UUID
	ConsecutiveFailures    int
	TotalFailures          int64
	TotalDeliveries        int64
	SuccessRate            float64
	AverageResponseTimeMs  float64
	CircuitBreakerState    CircuitState
	CircuitBreakerOpenedAt *time.Time
	Status                 HealthStatus
	LastFailureAt          *time.Time
	UpdatedAt              time.Time
}

// WebhookSecret is a signing secret for a webhook destination. SecretKey
// holds the ciphertext ("hex(iv):hex(ciphertext)"), never plaintext.
type WebhookSecret struct {
	ID            uuid.UUID
	DestinationID uuid.UUID
	SecretKey     string
	Algorithm     string
	IsActive      bool
	IsPrimary     bool
	ExpiresAt     *time.Time
	RotatedAt     *time.Time
	UsageCount    int64
	LastUsedAt    *time.Time
	CreatedAt     time.Time
}

// AccessRecord is one attempted access of a DownloadLink.
type AccessRecord struct {
	At        time.Time `json:"at"`
	Success   bool      `json:"success"`
	UserID    string    `json:"userId,omitempty"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
}

// DownloadLink is a time-limited link produced for type=download destinations.
type DownloadLink struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	ObjectType     string
	FileName       string
	FileSize       int64
	ExpiresAt      time.Time
	MaxAccess      int
	AccessCount    int
	AccessedBy     []AccessRecord
	IsActive       bool
	RevokedAt      *time.Time
	RevokedReason  string
	CreatedAt      time.Time
}

// APIKey is an admin API credential scoped to one organization.
type APIKey struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	KeyHash        string
	KeyPrefix      string
	Description    string
	Role           string
	LastUsedAt     *time.Time
	CreatedAt      time.Time
}
