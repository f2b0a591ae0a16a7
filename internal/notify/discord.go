package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordNotifier posts announcements to one Discord channel.
type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

// NewDiscordNotifier opens a bot session against the gateway.
func NewDiscordNotifier(token, channelID string, logger *zap.Logger) (*DiscordNotifier, error) {
	if token == "" || channelID == "" {
		return nil, fmt.Errorf("discord token and channel id are required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord open: %w", err)
	}
	logger.Info("discord notifier connected", zap.String("channel", channelID))
	return &DiscordNotifier{
		session:   session,
		channelID: channelID,
		logger:    logger,
	}, nil
}

func (n *DiscordNotifier) Platform() string { return "discord" }

// Notify posts the text as a channel message.
func (n *DiscordNotifier) Notify(_ context.Context, text string) error {
	if _, err := n.session.ChannelMessageSend(n.channelID, text); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// Close shuts the gateway session.
func (n *DiscordNotifier) Close() error {
	return n.session.Close()
}
