package store

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MessageAppend describes one message to record. A zero CreatedAt defaults to now.
type MessageAppend struct {
	TelegramID int64
	Direction  Direction
	Text       string
	CreatedAt  time.Time
}

// CommandAppend describes one command invocation to record.
type CommandAppend struct {
	TelegramID int64
	Command    string
	CreatedAt  time.Time
}

// AppendMessage inserts a message and refreshes the sender's last activity when the
// user is known. Messages for unknown users are still stored.
func (s *Service) AppendMessage(ctx context.Context, input MessageAppend) (BotMessage, error) {
	return s.insertMessage(ctx, opAppendMessage, input, true)
}

// ImportMessage inserts a historical message without touching user activity.
func (s *Service) ImportMessage(ctx context.Context, input MessageAppend) (BotMessage, error) {
	return s.insertMessage(ctx, opImportMessage, input, false)
}

func (s *Service) insertMessage(ctx context.Context, operation string, input MessageAppend, refreshActivity bool) (BotMessage, error) {
	if input.TelegramID <= 0 {
		return BotMessage{}, newServiceError(operation, "invalid_telegram_id", ErrInvalidTelegramID)
	}
	direction, err := ParseDirection(string(input.Direction))
	if err != nil {
		return BotMessage{}, newServiceError(operation, "invalid_direction", err)
	}

	now := s.now()
	message := BotMessage{
		TelegramID: input.TelegramID,
		Direction:  direction,
		Text:       input.Text,
		CreatedAt:  timestampOrNow(input.CreatedAt, now),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&message).Error; err != nil {
			return s.fail(operation, "insert_failed", err, zap.Int64("telegram_id", input.TelegramID))
		}
		if refreshActivity {
			return s.touchUser(tx, operation, input.TelegramID, now)
		}
		return nil
	})
	if err != nil {
		return BotMessage{}, err
	}
	return message, nil
}

// AppendCommand inserts a command log entry and refreshes the user's last activity.
func (s *Service) AppendCommand(ctx context.Context, input CommandAppend) (BotCommandLogEntry, error) {
	if input.TelegramID <= 0 {
		return BotCommandLogEntry{}, newServiceError(opAppendCommand, "invalid_telegram_id", ErrInvalidTelegramID)
	}

	now := s.now()
	entry := BotCommandLogEntry{
		TelegramID: input.TelegramID,
		Command:    strings.TrimSpace(input.Command),
		CreatedAt:  timestampOrNow(input.CreatedAt, now),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&entry).Error; err != nil {
			return s.fail(opAppendCommand, "insert_failed", err, zap.Int64("telegram_id", input.TelegramID))
		}
		return s.touchUser(tx, opAppendCommand, input.TelegramID, now)
	})
	if err != nil {
		return BotCommandLogEntry{}, err
	}
	return entry, nil
}

// CountMessages returns the number of stored messages for a user.
func (s *Service) CountMessages(ctx context.Context, telegramID int64) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&BotMessage{}).
		Where("telegram_id = ?", telegramID).
		Count(&count).Error; err != nil {
		return 0, s.fail(opCount, "messages_failed", err)
	}
	return count, nil
}

// CountCommands returns the number of logged commands for a user.
func (s *Service) CountCommands(ctx context.Context, telegramID int64) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&BotCommandLogEntry{}).
		Where("telegram_id = ?", telegramID).
		Count(&count).Error; err != nil {
		return 0, s.fail(opCount, "commands_failed", err)
	}
	return count, nil
}

// touchUser is a no-op for users that have not been seen yet.
func (s *Service) touchUser(tx *gorm.DB, operation string, telegramID int64, at time.Time) error {
	if err := tx.Model(&BotUser{}).
		Where("telegram_id = ?", telegramID).
		Update("last_active_at", at).Error; err != nil {
		return s.fail(operation, "touch_user_failed", err, zap.Int64("telegram_id", telegramID))
	}
	return nil
}

func timestampOrNow(value time.Time, now time.Time) time.Time {
	if value.IsZero() {
		return now
	}
	return value.UTC()
}
