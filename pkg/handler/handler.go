// Package handler defines the common contract every destination-type
// adapter (webhook, email, SFTP, storage) implements, plus the
// deterministic wire envelope shared by all of them.
package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Feature names a capability a handler may advertise via SupportsFeature.
type Feature string

const (
	FeatureSignatureVerification Feature = "signature_verification"
	FeatureIdempotency           Feature = "idempotency"
	FeatureRetryWithBackoff      Feature = "retry_with_backoff"
	FeatureConnectionPooling     Feature = "connection_pooling"
	FeatureRateLimiting          Feature = "rate_limiting"
)

// DefaultTimeout is the per-handler request/response timeout absent an
// override in destination config.
const DefaultTimeout = 30 * time.Second

// Envelope is the deterministic wire representation every handler builds
// from a queued delivery. Handlers never mutate payload fields; this is the
// only shape they are allowed to serialize.
type Envelope struct {
	DeliveryID     uuid.UUID       `json:"delivery_id"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Timestamp      string          `json:"timestamp"`
}

// Payload is the minimal shape handlers need to build an Envelope and
// deliver it; it is assembled by the queue processor from a db.QueueItem.
type Payload struct {
	DeliveryID     uuid.UUID
	OrganizationID uuid.UUID
	DestinationID  uuid.UUID
	Type           string
	Data           json.RawMessage
	Metadata       json.RawMessage
	CorrelationID  string
	IdempotencyKey string
}

// BuildEnvelope produces the canonical JSON envelope bytes for a payload.
// The same bytes are used for webhook bodies, SFTP file contents, and
// webhook signing, so signature verification and file integrity checks see
// identical content.
func BuildEnvelope(p Payload, now time.Time) ([]byte, error) {
	env := Envelope{
		DeliveryID:     p.DeliveryID,
		OrganizationID: p.OrganizationID,
		Type:           p.Type,
		Data:           p.Data,
		Metadata:       p.Metadata,
		CorrelationID:  p.CorrelationID,
		IdempotencyKey: p.IdempotencyKey,
		Timestamp:      now.UTC().Format(time.RFC3339),
	}
	return json.Marshal(env)
}

// ConfigValidation is returned by ValidateConfig.
type ConfigValidation struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ConnectionTestResult is returned by TestConnection.
type ConnectionTestResult struct {
	Success      bool          `json:"success"`
	ResponseTime time.Duration `json:"responseTime"`
	Error        string        `json:"error,omitempty"`
	Details      string        `json:"details,omitempty"`
}

// DeliveryResult is the structured, error-free outcome of a Deliver call.
// Handlers never return raw errors across this boundary; Error carries the
// message and Retryable carries the classification.
type DeliveryResult struct {
	Success              bool
	ResponseTime         time.Duration
	DeliveredAt          *time.Time
	CrossSystemReference string
	StatusCode           int
	Error                string
	Retryable            bool
}

// Handler is the common capability set every destination-type adapter
// implements.
type Handler interface {
	ValidateConfig(config json.RawMessage) ConfigValidation
	TestConnection(ctx context.Context, config json.RawMessage) ConnectionTestResult
	Deliver(ctx context.Context, payload Payload, config json.RawMessage) DeliveryResult
	SupportsFeature(feature Feature) bool
	ConfigSchema() json.RawMessage
}
