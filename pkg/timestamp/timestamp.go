// Package timestamp provides standardized Unix timestamp handling utilities.
//
// This package uses int64 milliseconds as the canonical timestamp format:
// event creation times are stored as milliseconds since Unix epoch, and the
// calendar bucketing helpers (DayKey, HourKey) derive the index keys used for
// business-date and date-range queries. All calendar math is UTC.
//
// Zero Value Semantics:
//   - A timestamp value of 0 means "not set" or "unknown"
//   - Functions handle zero values gracefully, returning appropriate defaults
package timestamp

import (
	"fmt"
	"strconv"
	"time"
)

const (
	dayLayout  = "2006-01-02"
	hourLayout = "2006-01-02-15"
)

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time.
// Returns zero time if timestamp is 0.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Format converts Unix milliseconds to RFC3339 string for display.
// Returns empty string if timestamp is 0.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// DayKey returns the calendar-day index key (YYYY-MM-DD, UTC) for a timestamp.
// Returns empty string if timestamp is 0.
func DayKey(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(dayLayout)
}

// HourKey returns the hour index key (YYYY-MM-DD-HH, UTC) for a timestamp.
// Returns empty string if timestamp is 0.
func HourKey(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(hourLayout)
}

// ParseDay parses a YYYY-MM-DD day key into the timestamp of that day's
// first millisecond (00:00:00.000 UTC).
func ParseDay(day string) (int64, error) {
	t, err := time.Parse(dayLayout, day)
	if err != nil {
		return 0, fmt.Errorf("invalid day key %q: %w", day, err)
	}
	return t.UnixMilli(), nil
}

// DayStart returns the timestamp of the first millisecond of the UTC day
// containing ms.
func DayStart(ms int64) int64 {
	t := time.UnixMilli(ms).UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).UnixMilli()
}

// DayEnd returns the timestamp of the last millisecond of the UTC day
// containing ms (23:59:59.999).
func DayEnd(ms int64) int64 {
	return DayStart(ms) + 24*int64(time.Hour/time.Millisecond) - 1
}

// DayKeysBetween returns the ordered day keys covering [start, end]
// inclusive. Returns nil when start > end.
func DayKeysBetween(start, end int64) []string {
	if start > end {
		return nil
	}
	var keys []string
	for cur := DayStart(start); cur <= end; cur += 24 * int64(time.Hour/time.Millisecond) {
		keys = append(keys, DayKey(cur))
	}
	return keys
}

// Parse converts various timestamp formats to Unix milliseconds.
// Supports:
//   - int64 (assumed to be milliseconds if > 1e12, otherwise seconds)
//   - float64 (converted to int64, same logic as int64)
//   - string (RFC3339 or Unix timestamp string)
//   - time.Time
//   - nil/zero values (returns 0)
//
// Returns 0 for invalid input or parsing errors.
func Parse(input any) int64 {
	if input == nil {
		return 0
	}

	switch v := input.(type) {
	case int64:
		if v == 0 {
			return 0
		}
		// Greater than 1e12 (year 2001 in seconds) means milliseconds,
		// otherwise seconds.
		if v > 1e12 {
			return v
		}
		return v * 1000

	case float64:
		if v == 0 {
			return 0
		}
		if v > 1e12 {
			return int64(v)
		}
		return int64(v * 1000)

	case int:
		return Parse(int64(v))

	case string:
		if v == "" {
			return 0
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return ToUnixMs(t)
		}
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			return Parse(ts)
		}
		return 0

	case time.Time:
		return ToUnixMs(v)

	default:
		return 0
	}
}

// IsZero checks if a timestamp is unset (zero).
func IsZero(ms int64) bool {
	return ms == 0
}

// Validate checks if a timestamp is valid (non-negative and reasonable).
// Returns an error if the timestamp is negative or unreasonably large.
func Validate(ms int64) error {
	if ms < 0 {
		return fmt.Errorf("timestamp cannot be negative: %d", ms)
	}
	// Year 3000
	if ms > 32503680000000 {
		return fmt.Errorf("timestamp too far in future: %d", ms)
	}
	return nil
}
