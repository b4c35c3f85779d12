package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserUpsert carries one sighting of a user.
// Blocked and JoinedAt only apply when the user is inserted for the first time;
// a zero JoinedAt defaults to the current time.
type UserUpsert struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	Blocked    bool
	JoinedAt   time.Time
}

// UpsertUser records a live user sighting. Existing users keep any profile field the
// sighting leaves empty, have last_active_at refreshed and never change blocked or
// joined_at. It reports whether a new row was created.
func (s *Service) UpsertUser(ctx context.Context, input UserUpsert) (bool, error) {
	return s.mergeUser(ctx, opUpsertUser, input, true)
}

// ImportUser merges a user from a bulk import. It follows the UpsertUser merge rule
// except that last_active_at of an existing user is left untouched.
func (s *Service) ImportUser(ctx context.Context, input UserUpsert) (bool, error) {
	return s.mergeUser(ctx, opImportUser, input, false)
}

func (s *Service) mergeUser(ctx context.Context, operation string, input UserUpsert, refreshActivity bool) (bool, error) {
	if input.TelegramID <= 0 {
		return false, newServiceError(operation, "invalid_telegram_id", ErrInvalidTelegramID)
	}

	now := s.now()
	joinedAt := input.JoinedAt.UTC()
	if input.JoinedAt.IsZero() {
		joinedAt = now
	}
	candidate := BotUser{
		TelegramID:   input.TelegramID,
		Username:     normalize(input.Username),
		FirstName:    normalize(input.FirstName),
		LastName:     normalize(input.LastName),
		IsBlocked:    input.Blocked,
		JoinedAt:     joinedAt,
		LastActiveAt: now,
	}

	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		insert := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&candidate)
		if insert.Error != nil {
			return s.fail(operation, "insert_failed", insert.Error, zap.Int64("telegram_id", input.TelegramID))
		}
		if insert.RowsAffected == 1 {
			created = true
			return nil
		}

		updates := map[string]interface{}{}
		if candidate.Username != "" {
			updates["username"] = candidate.Username
		}
		if candidate.FirstName != "" {
			updates["first_name"] = candidate.FirstName
		}
		if candidate.LastName != "" {
			updates["last_name"] = candidate.LastName
		}
		if refreshActivity {
			updates["last_active_at"] = now
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&BotUser{}).
			Where("telegram_id = ?", input.TelegramID).
			Updates(updates).Error; err != nil {
			return s.fail(operation, "update_failed", err, zap.Int64("telegram_id", input.TelegramID))
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// SetBlocked changes the operator-controlled blocked flag.
func (s *Service) SetBlocked(ctx context.Context, telegramID int64, blocked bool) error {
	if telegramID <= 0 {
		return newServiceError(opSetBlocked, "invalid_telegram_id", ErrInvalidTelegramID)
	}
	result := s.db.WithContext(ctx).
		Model(&BotUser{}).
		Where("telegram_id = ?", telegramID).
		Update("is_blocked", blocked)
	if result.Error != nil {
		return s.fail(opSetBlocked, "update_failed", result.Error, zap.Int64("telegram_id", telegramID))
	}
	if result.RowsAffected == 0 {
		return newServiceError(opSetBlocked, "not_found", ErrUserNotFound)
	}
	return nil
}

// GetUser loads a single user by Telegram id.
func (s *Service) GetUser(ctx context.Context, telegramID int64) (BotUser, error) {
	var user BotUser
	err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return BotUser{}, newServiceError(opGetUser, "not_found", ErrUserNotFound)
	}
	if err != nil {
		return BotUser{}, s.fail(opGetUser, "query_failed", err, zap.Int64("telegram_id", telegramID))
	}
	return user, nil
}

// DeliverableRecipients returns the ids of every user that is not blocked, in
// ascending id order, as of the moment of the call.
func (s *Service) DeliverableRecipients(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).
		Model(&BotUser{}).
		Where("is_blocked = ?", false).
		Order("telegram_id ASC").
		Pluck("telegram_id", &ids).Error; err != nil {
		return nil, s.fail(opRecipients, "query_failed", err)
	}
	return ids, nil
}
