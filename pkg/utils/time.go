package utils

import (
	"encoding/json"
	"strconv"
	"time"
)

// Now returns the current time in UTC timezone
func Now() time.Time {
	return time.Now().UTC()
}

// UnixToTime converts a unix timestamp to a UTC time.Time
func UnixToTime(timestamp int64) time.Time {
	if timestamp <= 0 {
		return time.Time{}
	}
	return time.Unix(timestamp, 0).UTC()
}

// UnixToTimeWithMilliseconds converts a unix timestamp with milliseconds to a UTC time.Time
func UnixToTimeWithMilliseconds(timestamp int64) time.Time {
	if timestamp <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(timestamp).UTC()
}

// millisThreshold separates second based unix timestamps from millisecond ones.
// 1e11 seconds is far in the future, 1e11 milliseconds is March 1973.
const millisThreshold = 100_000_000_000

// ParseTimestamp interprets the timestamp shapes found in provider payloads:
// RFC3339 strings, numeric strings and JSON numbers in seconds or milliseconds.
// The zero time is returned when v carries no usable timestamp.
func ParseTimestamp(v interface{}) time.Time {
	switch ts := v.(type) {
	case nil:
		return time.Time{}
	case time.Time:
		return ts.UTC()
	case string:
		if ts == "" {
			return time.Time{}
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t.UTC()
		}
		if n, err := strconv.ParseInt(ts, 10, 64); err == nil {
			return fromUnixGuess(n)
		}
	case float64:
		return fromUnixGuess(int64(ts))
	case int64:
		return fromUnixGuess(ts)
	case int:
		return fromUnixGuess(int64(ts))
	case json.Number:
		if n, err := ts.Int64(); err == nil {
			return fromUnixGuess(n)
		}
	case map[string]interface{}:
		// protobuf Long as serialized by some providers: {"low": n, "high": 0}
		if low, ok := ts["low"].(float64); ok {
			return fromUnixGuess(int64(low))
		}
	}
	return time.Time{}
}

func fromUnixGuess(n int64) time.Time {
	if n >= millisThreshold {
		return UnixToTimeWithMilliseconds(n)
	}
	return UnixToTime(n)
}
