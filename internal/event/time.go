package event

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var numericTS = regexp.MustCompile(`^[-+]?\d+(?:\.\d+)?$`)

// ParseAnyTS parses a timestamp-like value into comparable epoch seconds.
// It accepts epoch numbers of unknown scale (seconds, milliseconds,
// microseconds or nanoseconds, resolved by magnitude), numeric strings, and
// ISO-8601-like strings with or without a trailing "Z". Anything else
// resolves to 0, which sorts last everywhere downstream.
func ParseAnyTS(value any) float64 {
	switch v := value.(type) {
	case float64:
		return normalizeEpoch(v)
	case float32:
		return normalizeEpoch(float64(v))
	case int:
		return normalizeEpoch(float64(v))
	case int64:
		return normalizeEpoch(float64(v))
	case string:
		text := strings.TrimSpace(v)
		if text == "" {
			return 0
		}
		if numericTS.MatchString(text) {
			num, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return 0
			}
			return normalizeEpoch(num)
		}
		return parseISO(text)
	default:
		return 0
	}
}

// normalizeEpoch resolves the scale of a raw epoch number by magnitude
// thresholds and returns epoch seconds.
func normalizeEpoch(num float64) float64 {
	if num <= 0 {
		return 0
	}
	switch {
	case num > 1e18:
		return num / 1e9
	case num > 1e15:
		return num / 1e6
	case num > 1e12:
		return num / 1e3
	}
	return num
}

func parseISO(text string) float64 {
	if strings.HasSuffix(text, "Z") {
		text = strings.TrimSuffix(text, "Z") + "+00:00"
	}
	layouts := []string{
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02T15:04:05-07:00",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, text, time.Local); err == nil {
			return float64(t.UnixNano()) / 1e9
		}
	}
	return 0
}

// UTCNowISO returns the current UTC time as an ISO-8601 string with a
// trailing Z, the wire format used across the bus and snapshots.
func UTCNowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

// FormatTSMillis formats epoch milliseconds as local timestamp text.
// Non-positive input yields an empty string.
func FormatTSMillis(ms float64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(int64(ms)).Format("2006-01-02 15:04:05")
}

// FormatSeconds renders a duration in seconds as a compact human string.
func FormatSeconds(seconds int64) string {
	if seconds < 60 {
		return strconv.FormatInt(seconds, 10) + "s"
	}
	minutes := seconds / 60
	if minutes < 60 {
		return strconv.FormatInt(minutes, 10) + "m"
	}
	return strconv.FormatInt(minutes/60, 10) + "h"
}
