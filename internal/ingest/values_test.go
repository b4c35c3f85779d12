package ingest

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

func TestIdentityFieldRejectsOutOfRangeIDs(t *testing.T) {
	testCases := []struct {
		raw  string
		want int64
	}{
		{`9223372036854775807`, math.MaxInt64},
		{`9223372036854775808`, 0},
		{`9.223372036854775807e18`, 0},
		{`1e19`, 0},
		{`"user9223372036854775808"`, 0},
		{`12.0`, 12},
		{`12.5`, 0},
		{`-3`, 0},
	}
	for _, testCase := range testCases {
		fields := map[string]json.RawMessage{"telegram_id": json.RawMessage(testCase.raw)}
		if got := identityField(fields, "telegram_id"); got != testCase.want {
			t.Fatalf("identityField(%s): got %d, want %d", testCase.raw, got, testCase.want)
		}
	}
}

func TestTimeFieldBoundsUnixSeconds(t *testing.T) {
	for _, raw := range []string{`1e300`, `-1e300`, `9223372036854775808`, `253402300800`} {
		fields := map[string]json.RawMessage{"created_at": json.RawMessage(raw)}
		if _, err := timeField(fields, "created_at"); !errors.Is(err, ErrInvalidTimestamp) {
			t.Fatalf("timeField(%s): expected ErrInvalidTimestamp, got %v", raw, err)
		}
	}

	fields := map[string]json.RawMessage{"created_at": json.RawMessage(`253402300799`)}
	parsed, err := timeField(fields, "created_at")
	if err != nil {
		t.Fatalf("timeField at the upper bound: %v", err)
	}
	if want := time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC); !parsed.Equal(want) {
		t.Fatalf("unexpected upper bound time: %v", parsed)
	}
}
