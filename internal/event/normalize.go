package event

import (
	"encoding/json"
	"strconv"
	"strings"
)

// NormalizeAgentName normalizes an agent identifier for reliable lookups.
// The operation is idempotent: trim then lowercase.
func NormalizeAgentName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// DisplayAgentName returns the presentation form of a normalized agent name:
// first letter upper-cased, remainder untouched.
func DisplayAgentName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// ParseMessageActor identifies the actor role from compact prefixed message
// text ("user: ...", "assistant: ...", "toolresult: ...") and returns the
// actor plus the remaining content. Unprefixed text belongs to "system".
func ParseMessageActor(message string) (actor, content string) {
	clean := strings.TrimSpace(message)
	low := strings.ToLower(clean)
	switch {
	case strings.HasPrefix(low, "user:"):
		return "user", strings.TrimSpace(clean[5:])
	case strings.HasPrefix(low, "assistant:"):
		return "assistant", strings.TrimSpace(clean[10:])
	case strings.HasPrefix(low, "toolresult:"):
		return "tool", strings.TrimSpace(clean[11:])
	}
	return "system", clean
}

// ClipText clamps text length to keep labels readable, collapsing newlines.
// Truncation appends a single ellipsis rune.
func ClipText(value string, maxLen int) string {
	text := strings.TrimSpace(strings.ReplaceAll(value, "\n", " "))
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen-1]) + "…"
}

// DecodeJSONStream decodes multiple adjacent JSON objects from a possibly
// concatenated or partially corrupted stream. Unparsable spans are skipped
// byte by byte so one garbage region never hides the objects after it.
func DecodeJSONStream(payload string) []map[string]any {
	var out []map[string]any
	idx := 0
	length := len(payload)
	for idx < length {
		for idx < length && isSpace(payload[idx]) {
			idx++
		}
		if idx >= length {
			break
		}
		dec := json.NewDecoder(strings.NewReader(payload[idx:]))
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil || obj == nil {
			idx++
			continue
		}
		out = append(out, obj)
		idx += int(dec.InputOffset())
	}
	return out
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// anyToString renders scalar JSON values as text; composite values are
// marshaled so nothing is silently dropped.
func anyToString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// intValue extracts an integer from a decoded JSON value when possible.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

// stringSlice converts a decoded JSON array into a string slice, rendering
// non-string members defensively instead of discarding them.
func stringSlice(v any) []string {
	switch arr := v.(type) {
	case []string:
		out := make([]string, len(arr))
		copy(out, arr)
		return out
	case []any:
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			out = append(out, anyToString(item))
		}
		return out
	}
	return nil
}
