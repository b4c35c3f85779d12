package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/botdesk/internal/store"
)

// EventType names the kind of an inbound event envelope.
type EventType string

const (
	EventTypeUser           EventType = "user"
	EventTypeMessage        EventType = "message"
	EventTypeCommand        EventType = "command"
	EventTypeImportUsers    EventType = "import_users"
	EventTypeImportMessages EventType = "import_messages"
	EventTypePing           EventType = "ping"
	EventTypeUnknown        EventType = "unknown"
)

var (
	// ErrInvalidEvent indicates an envelope that is malformed or lacks a required field.
	ErrInvalidEvent = errors.New("ingest: invalid event")
	// ErrUnknownEventType indicates an envelope whose type is not recognised.
	ErrUnknownEventType = errors.New("ingest: unknown event type")
)

// UnknownTypeError names the offending envelope type.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("Unknown type: %s", e.Type)
}

func (e *UnknownTypeError) Is(target error) bool {
	return target == ErrUnknownEventType
}

// Event is one decoded inbound envelope.
type Event interface {
	Type() EventType
}

// UserEvent is a sighting of a user with their current profile.
type UserEvent struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
}

// MessageEvent records a message exchanged with a user.
type MessageEvent struct {
	TelegramID int64
	Direction  store.Direction
	Text       string
}

// CommandEvent records a bot command invoked by a user.
type CommandEvent struct {
	TelegramID int64
	Command    string
}

// ImportUsersEvent carries a batch of users exported from another system.
type ImportUsersEvent struct {
	Entries []ImportUserEntry
}

// ImportUserEntry is one user of a batch. A zero TelegramID means no identity could
// be resolved. Warning holds a field that could not be decoded and was defaulted.
type ImportUserEntry struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	Blocked    bool
	JoinedAt   time.Time
	Warning    error
}

// ImportMessagesEvent carries a batch of historical messages.
type ImportMessagesEvent struct {
	Entries []ImportMessageEntry
}

// ImportMessageEntry is one message of a batch, see ImportUserEntry for TelegramID and Warning.
type ImportMessageEntry struct {
	TelegramID int64
	Direction  store.Direction
	Text       string
	CreatedAt  time.Time
	Warning    error
}

// PingEvent is a liveness probe from the bot process.
type PingEvent struct{}

// UnknownEvent is an envelope with an unrecognised type.
type UnknownEvent struct {
	Name string
}

func (UserEvent) Type() EventType           { return EventTypeUser }
func (MessageEvent) Type() EventType        { return EventTypeMessage }
func (CommandEvent) Type() EventType        { return EventTypeCommand }
func (ImportUsersEvent) Type() EventType    { return EventTypeImportUsers }
func (ImportMessagesEvent) Type() EventType { return EventTypeImportMessages }
func (PingEvent) Type() EventType           { return EventTypePing }
func (UnknownEvent) Type() EventType        { return EventTypeUnknown }

var (
	importUserIdentityKeys    = []string{"telegram_id", "id", "user_id"}
	importMessageIdentityKeys = []string{"telegram_id", "user_id", "from_id"}
)

type envelopeHeader struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode parses a raw envelope into its typed event. Fields may sit at the top level
// next to "type" or inside a "payload" object.
func Decode(raw []byte) (Event, error) {
	var header envelopeHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	body := raw
	if trimmed := bytes.TrimSpace(header.Payload); len(trimmed) > 0 && trimmed[0] == '{' {
		body = trimmed
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	switch EventType(strings.TrimSpace(header.Type)) {
	case EventTypeUser:
		id := identityField(fields, "telegram_id")
		if id == 0 {
			return nil, fmt.Errorf("%w: telegram_id is required", ErrInvalidEvent)
		}
		return UserEvent{
			TelegramID: id,
			Username:   stringField(fields, "username"),
			FirstName:  stringField(fields, "first_name"),
			LastName:   stringField(fields, "last_name"),
		}, nil
	case EventTypeMessage:
		id := identityField(fields, "telegram_id")
		if id == 0 {
			return nil, fmt.Errorf("%w: telegram_id is required", ErrInvalidEvent)
		}
		direction, err := store.ParseDirection(stringField(fields, "direction"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		return MessageEvent{TelegramID: id, Direction: direction, Text: stringField(fields, "text")}, nil
	case EventTypeCommand:
		id := identityField(fields, "telegram_id")
		if id == 0 {
			return nil, fmt.Errorf("%w: telegram_id is required", ErrInvalidEvent)
		}
		return CommandEvent{TelegramID: id, Command: stringField(fields, "command")}, nil
	case EventTypeImportUsers:
		entries, err := decodeBatch(fields, "users")
		if err != nil {
			return nil, err
		}
		event := ImportUsersEvent{Entries: make([]ImportUserEntry, 0, len(entries))}
		for _, entry := range entries {
			event.Entries = append(event.Entries, decodeImportUser(entry))
		}
		return event, nil
	case EventTypeImportMessages:
		entries, err := decodeBatch(fields, "messages")
		if err != nil {
			return nil, err
		}
		event := ImportMessagesEvent{Entries: make([]ImportMessageEntry, 0, len(entries))}
		for _, entry := range entries {
			event.Entries = append(event.Entries, decodeImportMessage(entry))
		}
		return event, nil
	case EventTypePing:
		return PingEvent{}, nil
	default:
		return UnknownEvent{Name: header.Type}, nil
	}
}

func decodeBatch(fields map[string]json.RawMessage, key string) ([]map[string]json.RawMessage, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %s must be an array", ErrInvalidEvent, key)
	}
	entries := make([]map[string]json.RawMessage, 0, len(items))
	for _, item := range items {
		var entry map[string]json.RawMessage
		if err := json.Unmarshal(item, &entry); err != nil {
			// Non-object entries stay in the batch with no identity so they are skipped.
			entry = map[string]json.RawMessage{}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func decodeImportUser(fields map[string]json.RawMessage) ImportUserEntry {
	entry := ImportUserEntry{
		TelegramID: firstIdentity(fields, importUserIdentityKeys),
		Username:   stringField(fields, "username"),
		FirstName:  stringField(fields, "first_name"),
		LastName:   stringField(fields, "last_name"),
		Blocked:    boolField(fields, "is_blocked"),
	}
	// An unreadable joined_at falls back to the store default of now.
	joinedAt, err := timeField(fields, "joined_at")
	if err != nil {
		entry.Warning = fmt.Errorf("joined_at: %w", err)
	}
	entry.JoinedAt = joinedAt
	return entry
}

func decodeImportMessage(fields map[string]json.RawMessage) ImportMessageEntry {
	entry := ImportMessageEntry{
		TelegramID: firstIdentity(fields, importMessageIdentityKeys),
		Direction:  store.DirectionIn,
		Text:       stringField(fields, "text"),
	}
	var warnings []error
	if direction, err := store.ParseDirection(stringField(fields, "direction")); err != nil {
		warnings = append(warnings, fmt.Errorf("direction: %w", err))
	} else {
		entry.Direction = direction
	}

	createdAt, err := timeField(fields, "created_at")
	if err != nil {
		warnings = append(warnings, fmt.Errorf("created_at: %w", err))
	}
	if createdAt.IsZero() {
		// Telegram desktop exports carry the timestamp as "date".
		date, err := timeField(fields, "date")
		if err != nil {
			warnings = append(warnings, fmt.Errorf("date: %w", err))
		}
		createdAt = date
	}
	// A zero CreatedAt is stored as now.
	entry.CreatedAt = createdAt
	entry.Warning = errors.Join(warnings...)
	return entry
}

func firstIdentity(fields map[string]json.RawMessage, keys []string) int64 {
	for _, key := range keys {
		if id := identityField(fields, key); id != 0 {
			return id
		}
	}
	return 0
}
