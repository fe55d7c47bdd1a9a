package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wisbric/auditdelivery/pkg/handler"
)

// Handler delivers payloads as uploaded objects in S3, GCS, or Azure Blob
// Storage, returning the resolved object key as the cross-system reference.
type Handler struct {
	factory *Factory
}

// New builds a storage Handler with the default backend factory.
func New() *Handler {
	return &Handler{factory: NewFactory()}
}

// ValidateConfig checks structural validity and defers provider-specific
// checks to the resolved Backend.
func (h *Handler) ValidateConfig(raw json.RawMessage) handler.ConfigValidation {
	cfg, err := RawDecode(raw)
	if err != nil {
		return handler.ConfigValidation{Valid: false, Errors: []string{"config is not valid JSON: " + err.Error()}}
	}

	backend, err := h.factory.Get(cfg.ProviderName)
	if err != nil {
		return handler.ConfigValidation{Valid: false, Errors: []string{err.Error()}}
	}

	errs := backend.ValidateConfig(cfg)
	return handler.ConfigValidation{Valid: len(errs) == 0, Errors: errs}
}

// TestConnection checks the configured bucket is reachable by probing for a
// sentinel object's existence; absence of the sentinel is not itself a
// failure, only a backend error is.
func (h *Handler) TestConnection(ctx context.Context, raw json.RawMessage) handler.ConnectionTestResult {
	cfg, err := RawDecode(raw)
	if err != nil {
		return handler.ConnectionTestResult{Success: false, Error: err.Error()}
	}

	backend, err := h.factory.Get(cfg.ProviderName)
	if err != nil {
		return handler.ConnectionTestResult{Success: false, Error: err.Error()}
	}

	start := time.Now()
	_, err = backend.Exists(ctx, cfg, ".auditdelivery-connection-probe")
	elapsed := time.Since(start)
	if err != nil {
		return handler.ConnectionTestResult{Success: false, ResponseTime: elapsed, Error: err.Error()}
	}
	return handler.ConnectionTestResult{Success: true, ResponseTime: elapsed, Details: "bucket reachable"}
}

// Deliver uploads the payload envelope to the configured bucket under a key
// resolved from the destination's key pattern.
func (h *Handler) Deliver(ctx context.Context, payload handler.Payload, raw json.RawMessage) handler.DeliveryResult {
	cfg, err := RawDecode(raw)
	if err != nil {
		return handler.DeliveryResult{Success: false, Error: "invalid config: " + err.Error(), Retryable: false}
	}

	backend, err := h.factory.Get(cfg.ProviderName)
	if err != nil {
		return handler.DeliveryResult{Success: false, Error: err.Error(), Retryable: false}
	}

	now := time.Now().UTC()
	body, err := handler.BuildEnvelope(payload, now)
	if err != nil {
		return handler.DeliveryResult{Success: false, Error: "building envelope: " + err.Error(), Retryable: false}
	}

	key := ResolveKey(cfg, payload.DeliveryID.String(), payload.OrganizationID.String(), payload.Type, now)

	start := time.Now()
	_, err = backend.Upload(ctx, cfg, key, body, "application/json")
	elapsed := time.Since(start)
	if err != nil {
		return handler.DeliveryResult{Success: false, ResponseTime: elapsed, Error: err.Error(), Retryable: true}
	}

	deliveredAt := time.Now().UTC()
	return handler.DeliveryResult{
		Success:              true,
		ResponseTime:         elapsed,
		DeliveredAt:          &deliveredAt,
		CrossSystemReference: key,
	}
}

// SupportsFeature reports which optional capabilities this handler provides.
func (h *Handler) SupportsFeature(f handler.Feature) bool {
	return f == handler.FeatureRetryWithBackoff
}

// ConfigSchema returns a JSON-schema-shaped description of Config.
func (h *Handler) ConfigSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["provider", "bucket"],
		"properties": {
			"provider": {"type": "string", "enum": ["s3", "gcp", "azure"]},
			"bucket": {"type": "string"},
			"region": {"type": "string"},
			"path": {"type": "string"},
			"keyPattern": {"type": "string"},
			"connectionString": {"type": "string"}
		}
	}`)
}
