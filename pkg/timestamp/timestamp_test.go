package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayKey(t *testing.T) {
	ts := time.Date(2025, 1, 1, 14, 30, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, "2025-01-01", DayKey(ts))
	assert.Equal(t, "2025-01-01-14", HourKey(ts))
	assert.Equal(t, "", DayKey(0))
	assert.Equal(t, "", HourKey(0))
}

func TestDayKeyLastMillisecond(t *testing.T) {
	// 23:59:59.999 still belongs to its own day.
	ts := time.Date(2025, 1, 1, 23, 59, 59, 999_000_000, time.UTC).UnixMilli()
	assert.Equal(t, "2025-01-01", DayKey(ts))
	assert.Equal(t, "2025-01-02", DayKey(ts+1))
}

func TestParseDay(t *testing.T) {
	ms, err := ParseDay("2025-01-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), ms)

	_, err = ParseDay("01/01/2025")
	assert.Error(t, err)
}

func TestDayBounds(t *testing.T) {
	ts := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC).UnixMilli()
	start := DayStart(ts)
	end := DayEnd(ts)

	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC).UnixMilli(), start)
	assert.Equal(t, time.Date(2025, 3, 15, 23, 59, 59, 999_000_000, time.UTC).UnixMilli(), end)
	assert.Equal(t, "2025-03-15", DayKey(end))
}

func TestDayKeysBetween(t *testing.T) {
	start := time.Date(2025, 1, 30, 18, 0, 0, 0, time.UTC).UnixMilli()
	end := time.Date(2025, 2, 2, 6, 0, 0, 0, time.UTC).UnixMilli()

	keys := DayKeysBetween(start, end)
	assert.Equal(t, []string{"2025-01-30", "2025-01-31", "2025-02-01", "2025-02-02"}, keys)

	// Single-day range
	assert.Equal(t, []string{"2025-01-30"}, DayKeysBetween(start, start))

	// Inverted range
	assert.Nil(t, DayKeysBetween(end, start))
}

func TestParse(t *testing.T) {
	assert.Equal(t, int64(1673784645123), Parse(int64(1673784645123)))
	assert.Equal(t, int64(1673784645000), Parse(int64(1673784645)))
	assert.Equal(t, int64(0), Parse(nil))
	assert.Equal(t, int64(0), Parse("garbage"))

	ts := Parse("2023-01-15T12:30:45Z")
	assert.Equal(t, int64(1673785845000), ts)
}

func TestRoundTrip(t *testing.T) {
	now := Now()
	assert.Equal(t, now, ToUnixMs(FromUnixMs(now)))
	assert.True(t, FromUnixMs(0).IsZero())
	assert.Equal(t, int64(0), ToUnixMs(time.Time{}))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(Now()))
	assert.Error(t, Validate(-1))
	assert.Error(t, Validate(32503680000001))
}
