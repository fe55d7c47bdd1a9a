// Package download implements the type=download destination handler: rather
// than calling an external system, Deliver creates a time-limited
// DownloadLink row and reports that creation as the delivery outcome.
package download

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wisbric/auditdelivery/internal/db"
	"github.com/wisbric/auditdelivery/pkg/handler"
)

// Config is the decoded shape of a download destination's config JSON.
type Config struct {
	TTLSeconds int `json:"ttlSeconds"`
	MaxAccess  int `json:"maxAccess,omitempty"`
}

// DefaultTTLSeconds applies when a destination's config omits ttlSeconds.
const DefaultTTLSeconds = 24 * 60 * 60

// LinkCreator is the subset of db.DownloadLinkStore the handler depends on.
type LinkCreator interface {
	Create(ctx context.Context, p db.CreateDownloadLinkParams) (db.DownloadLink, error)
}

// Handler delivers payloads by registering a download link rather than
// invoking an external system.
type Handler struct {
	links LinkCreator
}

// New builds a download Handler over the given link store.
func New(links LinkCreator) *Handler {
	return &Handler{links: links}
}

// ValidateConfig checks ttlSeconds and maxAccess are non-negative.
func (h *Handler) ValidateConfig(raw json.RawMessage) handler.ConfigValidation {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return handler.ConfigValidation{Valid: false, Errors: []string{"config is not valid JSON: " + err.Error()}}
	}

	var errs []string
	if cfg.TTLSeconds < 0 {
		errs = append(errs, "ttlSeconds must not be negative")
	}
	if cfg.MaxAccess < 0 {
		errs = append(errs, "maxAccess must not be negative")
	}
	return handler.ConfigValidation{Valid: len(errs) == 0, Errors: errs}
}

// TestConnection is a local no-op: there is no external system to probe.
func (h *Handler) TestConnection(ctx context.Context, raw json.RawMessage) handler.ConnectionTestResult {
	return handler.ConnectionTestResult{Success: true, Details: "download links are created locally; no external connection to test"}
}

// Deliver creates a DownloadLink row for the payload's envelope; "delivery
// success" means the link was created and is valid, per the local-success
// semantics of this destination type.
func (h *Handler) Deliver(ctx context.Context, payload handler.Payload, raw json.RawMessage) handler.DeliveryResult {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return handler.DeliveryResult{Success: false, Error: "invalid config: " + err.Error(), Retryable: false}
	}

	ttl := cfg.TTLSeconds
	if ttl == 0 {
		ttl = DefaultTTLSeconds
	}

	now := time.Now().UTC()
	body, err := handler.BuildEnvelope(payload, now)
	if err != nil {
		return handler.DeliveryResult{Success: false, Error: "building envelope: " + err.Error(), Retryable: false}
	}

	link, err := h.links.Create(ctx, db.CreateDownloadLinkParams{
		OrganizationID: payload.OrganizationID,
		ObjectType:     payload.Type,
		FileName:       fmt.Sprintf("%s.json", payload.DeliveryID),
		FileSize:       int64(len(body)),
		ExpiresAt:      now.Add(time.Duration(ttl) * time.Second),
		MaxAccess:      cfg.MaxAccess,
	})
	if err != nil {
		return handler.DeliveryResult{Success: false, Error: "creating download link: " + err.Error(), Retryable: true}
	}

	deliveredAt := time.Now().UTC()
	return handler.DeliveryResult{
		Success:              true,
		ResponseTime:         time.Since(now),
		DeliveredAt:          &deliveredAt,
		CrossSystemReference: link.ID.String(),
	}
}

// SupportsFeature reports this handler's capability set; there is no retry
// or connection concept for a purely local operation.
func (h *Handler) SupportsFeature(f handler.Feature) bool {
	return false
}

// ConfigSchema returns a JSON-schema-shaped description of Config.
func (h *Handler) ConfigSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"ttlSeconds": {"type": "integer", "minimum": 0},
			"maxAccess": {"type": "integer", "minimum": 0}
		}
	}`)
}
