package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTimestamp indicates an import timestamp in an unsupported format.
var ErrInvalidTimestamp = errors.New("ingest: invalid timestamp")

// Unix seconds outside years 0001 through 9999 are rejected.
const (
	minUnixSeconds = -62135596800
	maxUnixSeconds = 253402300799
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// identityField resolves a Telegram id from a number, a numeric string, or an export
// style "user123" string. Anything else, including zero, resolves to 0.
func identityField(fields map[string]json.RawMessage, key string) int64 {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return 0
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		return positiveID(number.String())
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		text = strings.TrimSpace(text)
		text = strings.TrimPrefix(text, "user")
		return positiveID(text)
	}
	return 0
}

func positiveID(value string) int64 {
	if id, err := strconv.ParseInt(value, 10, 64); err == nil {
		if id > 0 {
			return id
		}
		return 0
	}
	float, err := strconv.ParseFloat(value, 64)
	if err != nil || float <= 0 || float != math.Trunc(float) || float >= math.MaxInt64 {
		return 0
	}
	return int64(float)
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	// Rich text exports are arrays of plain strings and {"text": ...} entities.
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var builder strings.Builder
	for _, part := range parts {
		var plain string
		if err := json.Unmarshal(part, &plain); err == nil {
			builder.WriteString(plain)
			continue
		}
		var entity struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(part, &entity); err == nil {
			builder.WriteString(entity.Text)
		}
	}
	return builder.String()
}

func boolField(fields map[string]json.RawMessage, key string) bool {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return false
	}
	var value bool
	if err := json.Unmarshal(raw, &value); err == nil {
		return value
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		parsed, err := strconv.ParseBool(strings.TrimSpace(text))
		return err == nil && parsed
	}
	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return number != 0
	}
	return false
}

// timeField parses a timestamp given as unix seconds or as an ISO-8601 string.
// An absent or empty value yields the zero time.
func timeField(fields map[string]json.RawMessage, key string) (time.Time, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return time.Time{}, nil
	}
	var seconds float64
	if err := json.Unmarshal(raw, &seconds); err == nil {
		if seconds < minUnixSeconds || seconds > maxUnixSeconds {
			return time.Time{}, ErrInvalidTimestamp
		}
		whole, fraction := math.Modf(seconds)
		return time.Unix(int64(whole), int64(fraction*float64(time.Second))).UTC(), nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return time.Time{}, ErrInvalidTimestamp
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, text); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidTimestamp
}
