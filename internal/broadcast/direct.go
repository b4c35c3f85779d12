package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/botdesk/internal/metrics"
	"github.com/MarcoPoloResearchLab/botdesk/internal/store"
)

// ErrInvalidChatID rejects a direct message without a positive chat id.
var ErrInvalidChatID = errors.New("broadcast: invalid chat id")

// DirectDeliveryError reports a direct message the sender refused.
type DirectDeliveryError struct {
	ChatID int64
	Err    error
}

func (e *DirectDeliveryError) Error() string {
	return fmt.Sprintf("broadcast: direct message to %d failed: %v", e.ChatID, e.Err)
}

func (e *DirectDeliveryError) Unwrap() error {
	return e.Err
}

// SendDirect delivers one operator message to one chat through the campaign sender
// and records it as an outbound message once the sender accepted it.
func (s *Service) SendDirect(ctx context.Context, chatID int64, text string) (store.BotMessage, error) {
	text = strings.TrimSpace(text)
	if chatID <= 0 {
		return store.BotMessage{}, ErrInvalidChatID
	}
	if text == "" {
		return store.BotMessage{}, ErrEmptyText
	}
	if s.sender == nil {
		return store.BotMessage{}, ErrSenderUnconfigured
	}

	err := s.deliver(ctx, chatID, text)
	metrics.ObserveDelivery(err == nil)
	if err != nil {
		s.logger.Warn("direct message failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return store.BotMessage{}, &DirectDeliveryError{ChatID: chatID, Err: err}
	}

	message, err := s.store.AppendMessage(ctx, store.MessageAppend{
		TelegramID: chatID,
		Direction:  store.DirectionOut,
		Text:       text,
	})
	if err != nil {
		return store.BotMessage{}, err
	}
	s.logger.Info("direct message sent", zap.Int64("chat_id", chatID), zap.Int64("message_id", message.ID))
	return message, nil
}
