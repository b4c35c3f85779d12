package store

import (
	"strings"
	"time"
)

// Direction distinguishes inbound user messages from bot replies.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// ParseDirection normalizes a textual direction; empty input defaults to DirectionIn.
func ParseDirection(value string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(DirectionIn):
		return DirectionIn, nil
	case string(DirectionOut):
		return DirectionOut, nil
	default:
		return "", ErrInvalidDirection
	}
}

// CampaignStatus tracks a broadcast campaign through its lifecycle.
type CampaignStatus string

const (
	CampaignStatusSending CampaignStatus = "sending"
	CampaignStatusDone    CampaignStatus = "done"
)

// BotUser is a Telegram user known to the bot, keyed by the Telegram user id.
type BotUser struct {
	TelegramID   int64     `gorm:"column:telegram_id;primaryKey;autoIncrement:false"`
	Username     string    `gorm:"column:username;size:64"`
	FirstName    string    `gorm:"column:first_name;size:256"`
	LastName     string    `gorm:"column:last_name;size:256"`
	IsBlocked    bool      `gorm:"column:is_blocked;not null;default:false;index"`
	JoinedAt     time.Time `gorm:"column:joined_at;not null"`
	LastActiveAt time.Time `gorm:"column:last_active_at;not null"`
}

// TableName exposes the table backing bot users.
func (BotUser) TableName() string {
	return "bot_users"
}

// BotMessage is an append-only record of one message exchanged with a user.
type BotMessage struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TelegramID int64     `gorm:"column:telegram_id;not null;index"`
	Direction  Direction `gorm:"column:direction;size:8;not null"`
	Text       string    `gorm:"column:text;type:text;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;index"`
}

// TableName exposes the table backing bot messages.
func (BotMessage) TableName() string {
	return "bot_messages"
}

// BotCommandLogEntry records one command invocation.
type BotCommandLogEntry struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TelegramID int64     `gorm:"column:telegram_id;not null;index"`
	Command    string    `gorm:"column:command;size:128;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
}

// TableName exposes the table backing the command log.
func (BotCommandLogEntry) TableName() string {
	return "bot_commands_log"
}

// BroadcastCampaign is one fan-out of a single text to every deliverable user.
type BroadcastCampaign struct {
	ID          int64          `gorm:"column:id;primaryKey;autoIncrement"`
	Text        string         `gorm:"column:text;type:text;not null"`
	Status      CampaignStatus `gorm:"column:status;size:16;not null;index"`
	SentCount   int            `gorm:"column:sent_count;not null;default:0"`
	FailedCount int            `gorm:"column:failed_count;not null;default:0"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null;index"`
}

// TableName exposes the table backing broadcast campaigns.
func (BroadcastCampaign) TableName() string {
	return "bot_broadcasts"
}

// Models lists every persisted model for schema migration.
func Models() []interface{} {
	return []interface{}{&BotUser{}, &BotMessage{}, &BotCommandLogEntry{}, &BroadcastCampaign{}}
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
