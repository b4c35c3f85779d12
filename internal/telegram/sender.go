package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// ErrMissingToken indicates the bot credential is not configured.
var ErrMissingToken = errors.New("telegram: bot token is required")

// DeliveryError reports a message that could not be handed to Telegram.
type DeliveryError struct {
	ChatID int64
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("telegram: deliver to chat %d: %v", e.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// SenderConfig describes the Bot API credential and endpoint.
type SenderConfig struct {
	Token  string
	APIURL string
	Logger *zap.Logger
}

// Sender posts HTML formatted messages through the Telegram Bot API.
type Sender struct {
	client *bot.Bot
	logger *zap.Logger
}

func NewSender(cfg SenderConfig) (*Sender, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, ErrMissingToken
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	options := []bot.Option{bot.WithSkipGetMe()}
	apiURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL != "" {
		options = append(options, bot.WithServerURL(apiURL))
	}
	client, err := bot.New(token, options...)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot client: %w", err)
	}
	logger.Debug("telegram sender configured", zap.String("api_url", apiURL))
	return &Sender{client: client, logger: logger}, nil
}

// Send delivers text to chatID. Transport and API errors come back as *DeliveryError.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) error {
	_, err := s.client.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		if errors.Is(err, bot.ErrorForbidden) {
			s.logger.Debug("recipient has blocked the bot", zap.Int64("chat_id", chatID))
		}
		return &DeliveryError{ChatID: chatID, Err: err}
	}
	return nil
}
