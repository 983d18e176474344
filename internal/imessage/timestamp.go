package imessage

import (
	"math"
	"time"
)

// appleEpoch is the reference instant for every chat.db date column.
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

var (
	saneFrom  = time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	saneUntil = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

type timeUnit int

const (
	unitSeconds timeUnit = iota
	unitMicros
	unitNanos
)

// inferUnit guesses the resolution of a raw date value. Older databases store
// seconds, newer ones nanoseconds, and some exports microseconds. The ranges
// overlap, so the order of the checks matters.
func inferUnit(raw int64) timeUnit {
	switch {
	case raw >= 1e15, raw >= 1e14 && raw%1e9 == 0:
		return unitNanos
	case raw >= 1e9 && raw%1e6 == 0:
		return unitMicros
	case raw < 1e11:
		return unitSeconds
	default:
		return unitMicros
	}
}

// NormalizeAppleTime converts a raw chat.db date into a UTC instant.
// Zero means absent. Values outside [1999-01-01, 2100-01-01) or that overflow
// are rejected.
func NormalizeAppleTime(raw int64) (time.Time, bool) {
	if raw == 0 {
		return time.Time{}, false
	}

	var d time.Duration
	switch inferUnit(raw) {
	case unitNanos:
		d = time.Duration(raw)
	case unitMicros:
		if raw > math.MaxInt64/1000 || raw < math.MinInt64/1000 {
			return time.Time{}, false
		}
		d = time.Duration(raw) * time.Microsecond
	default:
		if raw > math.MaxInt64/1_000_000_000 || raw < math.MinInt64/1_000_000_000 {
			return time.Time{}, false
		}
		d = time.Duration(raw) * time.Second
	}

	t := appleEpoch.Add(d)
	if t.Before(saneFrom) || !t.Before(saneUntil) {
		return time.Time{}, false
	}
	return t, true
}

// NormalizeAppleTimestamp is NormalizeAppleTime rendered as RFC 3339 UTC, or
// "" when the value is absent or rejected.
func NormalizeAppleTimestamp(raw int64) string {
	t, ok := NormalizeAppleTime(raw)
	if !ok {
		return ""
	}
	return FormatTimestamp(t)
}

// FormatTimestamp renders t in UTC with a Z suffix.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
