package discord

import (
	"context"
	"fmt"

	"whalewatch/config"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordClient delivers rendered alerts to Discord channels.
// Implements notifier.Notifier interface.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	channelID := cfg.Discord.BetaChannelID
	if cfg.IsProd {
		channelID = cfg.Discord.ProdChannelID
	}

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord alerts disabled")
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
		}
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
		}
	}

	logger.Info("discord bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("channelID", channelID),
	)

	return &DiscordClient{
		logger:    logger,
		session:   session,
		channelID: channelID,
	}
}

// Deliver sends rendered alert text. userID may carry a Discord channel ID;
// when empty, the configured alert channel is used.
// Implements notifier.Notifier interface.
func (dc *DiscordClient) Deliver(ctx context.Context, userID string, text string) error {
	if dc.session == nil {
		dc.logger.Warn("discord session not initialized, skipping delivery")
		return nil
	}

	channelID := userID
	if channelID == "" {
		channelID = dc.channelID
	}
	if channelID == "" {
		return fmt.Errorf("no discord channel configured")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := dc.session.ChannelMessageSend(channelID, text); err != nil {
		dc.logger.Error("failed to send discord message",
			zap.String("channelID", channelID),
			zap.Error(err),
		)
		return fmt.Errorf("send discord message: %w", err)
	}

	dc.logger.Debug("sent discord alert", zap.String("channelID", channelID))
	return nil
}

// Close cleans up resources. Implements notifier.Notifier interface.
func (dc *DiscordClient) Close() error {
	if dc.session == nil {
		return nil
	}
	return dc.session.Close()
}
