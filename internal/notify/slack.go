package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackNotifier posts announcements to one Slack channel.
type SlackNotifier struct {
	client    *slack.Client
	channelID string
	logger    *zap.Logger
}

// NewSlackNotifier creates a client and verifies the token.
func NewSlackNotifier(botToken, channelID string, logger *zap.Logger) (*SlackNotifier, error) {
	if botToken == "" || channelID == "" {
		return nil, fmt.Errorf("slack token and channel id are required")
	}
	client := slack.New(botToken)
	if _, err := client.AuthTest(); err != nil {
		return nil, fmt.Errorf("slack auth: %w", err)
	}
	logger.Info("slack notifier connected", zap.String("channel", channelID))
	return &SlackNotifier{
		client:    client,
		channelID: channelID,
		logger:    logger,
	}, nil
}

func (n *SlackNotifier) Platform() string { return "slack" }

// Notify posts the text as a channel message.
func (n *SlackNotifier) Notify(ctx context.Context, text string) error {
	_, _, err := n.client.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}
