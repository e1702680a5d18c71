package discord

import (
	"context"
	"testing"

	"whalewatch/config"
)

func TestNewDiscordClient_NoToken(t *testing.T) {
	cfg := &config.Config{
		Discord: config.DiscordConfig{
			BetaChannelID: "beta-channel",
		},
	}

	dc := NewDiscordClient(nil, cfg)

	if dc.session != nil {
		t.Error("expected nil session without token")
	}
	if dc.channelID != "beta-channel" {
		t.Errorf("channelID = %q, want beta-channel", dc.channelID)
	}

	// Delivery is a no-op without a session, never an error.
	if err := dc.Deliver(context.Background(), "", "hello"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewDiscordClient_ProdChannel(t *testing.T) {
	cfg := &config.Config{
		IsProd: true,
		Discord: config.DiscordConfig{
			ProdChannelID: "prod-channel",
			BetaChannelID: "beta-channel",
		},
	}

	dc := NewDiscordClient(nil, cfg)

	if dc.channelID != "prod-channel" {
		t.Errorf("channelID = %q, want prod-channel", dc.channelID)
	}
}

func TestClose_NoSession(t *testing.T) {
	dc := NewDiscordClient(nil, &config.Config{})

	if err := dc.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
