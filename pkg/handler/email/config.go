// Package email implements the email delivery handler: provider factory
// (SMTP, SendGrid, Resend, SES), per-provider rate limiting, connection
// pooling, template rendering, and attachment/recipient validation.
package email

import (
	"encoding/json"
)

// Service names the supported email provider backends.
type Service string

const (
	ServiceSMTP     Service = "smtp"
	ServiceSendGrid Service = "sendgrid"
	ServiceResend   Service = "resend"
	ServiceSES      Service = "ses"
)

// SMTPConfig is the decoded shape of an email destination's smtpConfig block.
type SMTPConfig struct {
	Host   string    `json:"host"`
	Port   int       `json:"port"`
	Secure bool      `json:"secure"`
	Auth   *SMTPAuth `json:"auth,omitempty"`
}

// SMTPAuth holds SMTP AUTH credentials.
type SMTPAuth struct {
	User string `json:"user"`
	Pass string `json:"pass"`
}

// Config is the decoded shape of an email destination's config JSON.
type Config struct {
	ServiceName    Service     `json:"service"`
	From           string      `json:"from"`
	Subject        string      `json:"subject"`
	BodyTemplate   string      `json:"bodyTemplate,omitempty"`
	AttachmentName string      `json:"attachmentName,omitempty"`
	Recipients     []string    `json:"recipients,omitempty"`
	SMTPConfig     *SMTPConfig `json:"smtpConfig,omitempty"`
	APIKey         string      `json:"apiKey,omitempty"`
}

// MaxSubjectLength bounds the subject line per RFC 2822 practical limits.
const MaxSubjectLength = 998

// RawDecode unmarshals a destination's raw config JSON into Config.
func RawDecode(raw json.RawMessage) (Config, error) {
	var cfg Config
	err := json.Unmarshal(raw, &cfg)
	return cfg, err
}
