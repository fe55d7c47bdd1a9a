package email

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"time"

	"github.com/wisbric/auditdelivery/pkg/handler"
	"github.com/wisbric/auditdelivery/pkg/retry"
	"github.com/wisbric/auditdelivery/pkg/template"
)

// Handler delivers payloads as rendered email through one of the registered
// providers, enforcing attachment/recipient limits and advisory per-provider
// rate limiting before handing off to the provider's transport.
type Handler struct {
	factory *Factory
	limiter *RateLimiter
}

// New builds an email Handler with the default provider factory.
func New() *Handler {
	return &Handler{factory: NewFactory(), limiter: NewRateLimiter()}
}

// ValidateConfig checks structural validity and defers provider-specific
// checks to the resolved Provider.
func (h *Handler) ValidateConfig(raw json.RawMessage) handler.ConfigValidation {
	cfg, err := RawDecode(raw)
	if err != nil {
		return handler.ConfigValidation{Valid: false, Errors: []string{"config is not valid JSON: " + err.Error()}}
	}

	var errs, warnings []string
	if cfg.From == "" {
		errs = append(errs, "from is required")
	}
	if len(cfg.Subject) > MaxSubjectLength {
		errs = append(errs, fmt.Sprintf("subject exceeds maximum length of %d", MaxSubjectLength))
	}
	if len(cfg.Recipients) == 0 {
		warnings = append(warnings, "no static recipients configured; recipients must be supplied by the queued payload")
	} else if rv := template.ValidateRecipients(cfg.Recipients); !rv.Valid {
		errs = append(errs, rv.Errors...)
	} else {
		warnings = append(warnings, rv.Warnings...)
	}

	provider, err := h.factory.Get(cfg.ServiceName)
	if err != nil {
		errs = append(errs, err.Error())
		return handler.ConfigValidation{Valid: false, Errors: errs, Warnings: warnings}
	}
	errs = append(errs, provider.ValidateConfig(cfg)...)

	return handler.ConfigValidation{Valid: len(errs) == 0, Errors: errs, Warnings: warnings}
}

// TestConnection probes SMTP providers with a plain dial/handshake; API-based
// providers are considered reachable if their config validates, since a real
// probe would consume provider send quota.
func (h *Handler) TestConnection(ctx context.Context, raw json.RawMessage) handler.ConnectionTestResult {
	cfg, err := RawDecode(raw)
	if err != nil {
		return handler.ConnectionTestResult{Success: false, Error: err.Error()}
	}

	if cfg.ServiceName != ServiceSMTP || cfg.SMTPConfig == nil {
		if errs := h.ValidateConfig(raw); !errs.Valid {
			return handler.ConnectionTestResult{Success: false, Error: fmt.Sprintf("%v", errs.Errors)}
		}
		return handler.ConnectionTestResult{Success: true, Details: "config validated; live probe skipped for API-based providers"}
	}

	start := time.Now()
	addr := fmt.Sprintf("%s:%d", cfg.SMTPConfig.Host, cfg.SMTPConfig.Port)
	conn, err := smtp.Dial(addr)
	elapsed := time.Since(start)
	if err != nil {
		return handler.ConnectionTestResult{Success: false, ResponseTime: elapsed, Error: err.Error()}
	}
	defer conn.Close()

	return handler.ConnectionTestResult{Success: true, ResponseTime: elapsed, Details: "smtp handshake succeeded"}
}

// Deliver renders the subject and body templates, validates attachments and
// recipients, checks the provider's advisory rate limit, and sends through
// the resolved Provider.
func (h *Handler) Deliver(ctx context.Context, payload handler.Payload, raw json.RawMessage) handler.DeliveryResult {
	cfg, err := RawDecode(raw)
	if err != nil {
		return handler.DeliveryResult{Success: false, Error: "invalid config: " + err.Error(), Retryable: false}
	}

	provider, err := h.factory.Get(cfg.ServiceName)
	if err != nil {
		return handler.DeliveryResult{Success: false, Error: err.Error(), Retryable: false}
	}

	renderCtx, err := envelopeToRenderContext(payload)
	if err != nil {
		return handler.DeliveryResult{Success: false, Error: "building render context: " + err.Error(), Retryable: false}
	}

	subject := cfg.Subject
	if subject == "" {
		subject = fmt.Sprintf("Audit event: %s", payload.Type)
	}
	renderedSubject, err := template.Render(subject, renderCtx, template.Options{})
	if err != nil {
		return handler.DeliveryResult{Success: false, Error: "rendering subject: " + err.Error(), Retryable: false}
	}

	body := cfg.BodyTemplate
	if body == "" {
		body = defaultBodyTemplate
	}
	renderedBody, err := template.Render(body, renderCtx, template.Options{})
	if err != nil {
		return handler.DeliveryResult{Success: false, Error: "rendering body: " + err.Error(), Retryable: false}
	}

	recipients := cfg.Recipients
	if len(recipients) == 0 {
		return handler.DeliveryResult{Success: false, Error: "no recipients configured", Retryable: false}
	}
	if rv := template.ValidateRecipients(recipients); !rv.Valid {
		return handler.DeliveryResult{Success: false, Error: fmt.Sprintf("invalid recipients: %v", rv.Errors), Retryable: false}
	}

	attachments, err := buildAttachments(cfg, payload)
	if err != nil {
		return handler.DeliveryResult{Success: false, Error: err.Error(), Retryable: false}
	}
	if err := template.ValidateAttachments(attachments); err != nil {
		return handler.DeliveryResult{Success: false, Error: err.Error(), Retryable: false}
	}

	if !h.limiter.Allow(payload.DestinationID.String(), provider.RateLimits()) {
		return handler.DeliveryResult{Success: false, Error: "email: rate limit exceeded for destination", Retryable: true}
	}

	sendAttachments := make([]Attachment, len(attachments))
	for i, a := range attachments {
		sendAttachments[i] = Attachment{Filename: a.Filename, Content: a.Content}
	}

	timeout := handler.DefaultTimeout
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := provider.Send(sendCtx, cfg, SendRequest{
		From:        cfg.From,
		To:          recipients,
		Subject:     renderedSubject,
		HTMLBody:    renderedBody,
		Headers:     map[string]string{"X-Delivery-ID": payload.DeliveryID.String()},
		Attachments: sendAttachments,
	})
	elapsed := time.Since(start)
	if err != nil {
		classification := retry.ClassifyError(err)
		return handler.DeliveryResult{Success: false, ResponseTime: elapsed, Error: err.Error(), Retryable: classification.Retryable}
	}

	deliveredAt := time.Now().UTC()
	return handler.DeliveryResult{
		Success:              true,
		ResponseTime:         elapsed,
		DeliveredAt:          &deliveredAt,
		CrossSystemReference: result.MessageID,
	}
}

const defaultBodyTemplate = `<p>Audit event {{type}} for delivery {{delivery_id}}.</p><pre>{{json data}}</pre>`

func envelopeToRenderContext(payload handler.Payload) (map[string]any, error) {
	var data any
	if len(payload.Data) > 0 {
		if err := json.Unmarshal(payload.Data, &data); err != nil {
			return nil, err
		}
	}
	var metadata any
	if len(payload.Metadata) > 0 {
		if err := json.Unmarshal(payload.Metadata, &metadata); err != nil {
			return nil, err
		}
	}
	return map[string]any{
		"delivery_id":     payload.DeliveryID.String(),
		"organization_id": payload.OrganizationID.String(),
		"type":            payload.Type,
		"data":            data,
		"metadata":        metadata,
		"correlation_id":  payload.CorrelationID,
	}, nil
}

func buildAttachments(cfg Config, payload handler.Payload) ([]template.Attachment, error) {
	if cfg.AttachmentName == "" {
		return nil, nil
	}
	envelope, err := handler.BuildEnvelope(payload, time.Now())
	if err != nil {
		return nil, err
	}
	return []template.Attachment{{Filename: cfg.AttachmentName, Content: envelope}}, nil
}

// SupportsFeature reports which optional capabilities this handler provides.
func (h *Handler) SupportsFeature(f handler.Feature) bool {
	switch f {
	case handler.FeatureRetryWithBackoff, handler.FeatureConnectionPooling, handler.FeatureRateLimiting:
		return true
	default:
		return false
	}
}

// ConfigSchema returns a JSON-schema-shaped description of Config.
func (h *Handler) ConfigSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["service", "from"],
		"properties": {
			"service": {"type": "string", "enum": ["smtp", "sendgrid", "resend", "ses"]},
			"from": {"type": "string", "format": "email"},
			"subject": {"type": "string"},
			"bodyTemplate": {"type": "string"},
			"attachmentName": {"type": "string"},
			"recipients": {"type": "array", "items": {"type": "string", "format": "email"}},
			"smtpConfig": {"type": "object"},
			"apiKey": {"type": "string"}
		}
	}`)
}
