// Package slack posts destination circuit-breaker alerts to a Slack channel.
package slack

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	goslack "github.com/slack-go/slack"
)

// Notifier implements pkg/health's AlertNotifier by posting to a fixed
// Slack channel. If botToken is empty it is a noop, logging only.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewNotifier builds a Notifier. An empty botToken disables posting.
func NewNotifier(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether the notifier has a client and a target channel.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// NotifyCircuitOpen posts a message announcing that a destination's circuit
// breaker just tripped open. Failures to post are logged, never returned —
// an alerting outage must not affect delivery processing.
func (n *Notifier) NotifyCircuitOpen(ctx context.Context, destinationID uuid.UUID) {
	if !n.IsEnabled() {
		n.logger.Debug("slack notifier disabled, skipping circuit-open alert", "destinationId", destinationID)
		return
	}

	text := fmt.Sprintf(":rotating_light: Destination `%s` circuit breaker opened — deliveries are being suppressed.", destinationID)
	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}

	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		goslack.MsgOptionBlocks(blocks...),
		goslack.MsgOptionText(text, false),
	)
	if err != nil {
		n.logger.Error("posting circuit-open alert to slack", "error", err, "destinationId", destinationID)
		return
	}
	n.logger.Info("posted circuit-open alert to slack", "destinationId", destinationID)
}
