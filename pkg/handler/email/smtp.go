package email

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

// SMTPProvider sends mail via a configured SMTP server using go-mail, with
// connections drawn from a pool keyed by host:port:username (see pool.go).
type SMTPProvider struct {
	pool *ConnectionPool
}

// NewSMTPProvider builds an SMTPProvider with its own connection pool.
func NewSMTPProvider() *SMTPProvider {
	return &SMTPProvider{pool: NewConnectionPool()}
}

// ValidateConfig requires host, port, and auth credentials.
func (p *SMTPProvider) ValidateConfig(cfg Config) []string {
	var errs []string
	if cfg.SMTPConfig == nil {
		return []string{"smtp: smtpConfig is required"}
	}
	if cfg.SMTPConfig.Host == "" {
		errs = append(errs, "smtp: smtpConfig.host is required")
	}
	if cfg.SMTPConfig.Port < 1 || cfg.SMTPConfig.Port > 65535 {
		errs = append(errs, "smtp: smtpConfig.port must be between 1 and 65535")
	}
	if cfg.SMTPConfig.Auth == nil || cfg.SMTPConfig.Auth.User == "" {
		errs = append(errs, "smtp: smtpConfig.auth.user is required")
	}
	return errs
}

// Send builds and dials a go-mail message through a pooled client.
func (p *SMTPProvider) Send(ctx context.Context, cfg Config, req SendRequest) (SendResult, error) {
	if cfg.SMTPConfig == nil {
		return SendResult{}, fmt.Errorf("smtp: missing smtpConfig")
	}

	msg := mail.NewMsg()
	if err := msg.From(req.From); err != nil {
		return SendResult{}, fmt.Errorf("smtp: invalid from address: %w", err)
	}
	if err := msg.To(req.To...); err != nil {
		return SendResult{}, fmt.Errorf("smtp: invalid recipient address: %w", err)
	}
	msg.Subject(req.Subject)
	msg.SetBodyString(mail.TypeTextHTML, req.HTMLBody)
	for k, v := range req.Headers {
		msg.SetGenHeader(mail.Header(k), v)
	}
	for _, a := range req.Attachments {
		msg.AttachReader(a.Filename, newAttachmentReader(a.Content))
	}

	client, err := p.pool.Acquire(ctx, *cfg.SMTPConfig)
	if err != nil {
		return SendResult{}, fmt.Errorf("smtp: acquiring connection: %w", err)
	}
	defer p.pool.Release(*cfg.SMTPConfig, client)

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return SendResult{}, fmt.Errorf("smtp: sending message: %w", err)
	}

	messageID := ""
	if ids := msg.GetGenHeader(mail.HeaderMessageID); len(ids) > 0 {
		messageID = ids[0]
	}
	return SendResult{MessageID: messageID}, nil
}

// SupportsFeature reports SMTP's capability set: pooled connections, no
// native rate limiting or idempotency signal from the server.
func (p *SMTPProvider) SupportsFeature(feature string) bool {
	return feature == "connection_pooling"
}

// RateLimits returns conservative defaults for a generic SMTP relay.
func (p *SMTPProvider) RateLimits() RateLimits {
	return RateLimits{RequestsPerSecond: 5, RequestsPerMinute: 100, RequestsPerHour: 1000, BurstLimit: 10}
}
