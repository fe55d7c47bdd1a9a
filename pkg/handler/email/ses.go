package email

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESProvider sends mail through Amazon SES v2's SendEmail API. The client
// is built lazily from the ambient AWS credential chain (env vars, shared
// config, instance role) rather than from the destination's apiKey field.
// Unlike the S3 storage backend, it has no per-destination static-key
// option.
type SESProvider struct {
	mu     sync.Mutex
	client *sesv2.Client
}

// NewSESProvider builds an SESProvider; the underlying client is resolved
// on first Send.
func NewSESProvider() *SESProvider {
	return &SESProvider{}
}

// ValidateConfig requires a from address; SES itself authenticates via the
// ambient AWS credential chain, so apiKey is not required here.
func (p *SESProvider) ValidateConfig(cfg Config) []string {
	if cfg.From == "" {
		return []string{"ses: from address is required"}
	}
	return nil
}

func (p *SESProvider) resolveClient(ctx context.Context) (*sesv2.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("ses: loading aws config: %w", err)
	}
	p.client = sesv2.NewFromConfig(cfg)
	return p.client, nil
}

// Send issues an SES v2 SendEmail call with a raw MIME-equivalent simple
// message; attachments are carried as a raw message when present since the
// simple-content API has no attachment field.
func (p *SESProvider) Send(ctx context.Context, cfg Config, req SendRequest) (SendResult, error) {
	client, err := p.resolveClient(ctx)
	if err != nil {
		return SendResult{}, err
	}

	if len(req.Attachments) > 0 {
		return p.sendRaw(ctx, client, req)
	}

	headers := make([]types.MessageHeader, 0, len(req.Headers))
	for k, v := range req.Headers {
		headers = append(headers, types.MessageHeader{Name: aws.String(k), Value: aws.String(v)})
	}

	out, err := client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(req.From),
		Destination:      &types.Destination{ToAddresses: req.To},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(req.Subject)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(req.HTMLBody)},
				},
				Headers: headers,
			},
		},
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("ses: sending email: %w", err)
	}
	return SendResult{MessageID: aws.ToString(out.MessageId)}, nil
}

func (p *SESProvider) sendRaw(ctx context.Context, client *sesv2.Client, req SendRequest) (SendResult, error) {
	raw, err := buildRawMIME(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("ses: building raw message: %w", err)
	}

	out, err := client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(req.From),
		Destination:      &types.Destination{ToAddresses: req.To},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("ses: sending raw email: %w", err)
	}
	return SendResult{MessageID: aws.ToString(out.MessageId)}, nil
}

// SupportsFeature reports SES's capability set.
func (p *SESProvider) SupportsFeature(feature string) bool {
	return feature == "attachments" || feature == "rate_limiting"
}

// RateLimits matches SES's conservative shared-IP sandbox default; accounts
// with a production send quota typically override this via destination
// config rather than this package default.
func (p *SESProvider) RateLimits() RateLimits {
	return RateLimits{RequestsPerSecond: 14, RequestsPerMinute: 600, RequestsPerHour: 36000, BurstLimit: 14}
}
