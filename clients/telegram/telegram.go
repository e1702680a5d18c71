package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"whalewatch/config"

	"go.uber.org/zap"
)

const telegramAPIURL = "https://api.telegram.org/bot%s/%s"

// TelegramClient delivers rendered alerts to Telegram chats.
// Implements notifier.Notifier interface.
type TelegramClient struct {
	logger   *zap.Logger
	botToken string
	baseURL  string
	client   *http.Client
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	token := cfg.Telegram.BotToken
	if token == "" {
		logger.Warn("TELEGRAM_BOT_KEY not set, Telegram alerts disabled")
		return &TelegramClient{logger: logger}
	}

	logger.Info("telegram bot initialized")

	return &TelegramClient{
		logger:   logger,
		botToken: token,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Deliver sends rendered alert text to one chat. userID is the Telegram chat
// ID. Implements notifier.Notifier interface.
func (tc *TelegramClient) Deliver(ctx context.Context, userID string, text string) error {
	if tc.botToken == "" {
		tc.logger.Warn("telegram not configured, skipping delivery")
		return nil
	}
	if userID == "" {
		return fmt.Errorf("empty telegram chat id")
	}

	if err := tc.sendMessage(ctx, userID, text); err != nil {
		tc.logger.Error("failed to send telegram message",
			zap.String("chatID", userID),
			zap.Error(err),
		)
		return err
	}

	tc.logger.Debug("sent telegram alert", zap.String("chatID", userID))
	return nil
}

func (tc *TelegramClient) sendMessage(ctx context.Context, chatID, text string) error {
	apiURL := fmt.Sprintf(tc.endpoint(), tc.botToken, "sendMessage")

	payload := map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

func (tc *TelegramClient) endpoint() string {
	if tc.baseURL != "" {
		return tc.baseURL + "/bot%s/%s"
	}
	return telegramAPIURL
}

// Close cleans up resources. Implements notifier.Notifier interface.
func (tc *TelegramClient) Close() error {
	return nil
}
