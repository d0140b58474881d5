package bridge

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/virgolamobile/observatory/internal/event"
)

const previewLimit = 240

// ExtractSessionEvent converts one decoded transcript record into a bus
// event payload. Only user and assistant turns with structured content
// blocks produce events; everything else (tool results, meta records,
// unstructured content) returns false.
func ExtractSessionEvent(agent string, entry map[string]any) (map[string]any, bool) {
	message, _ := entry["message"].(map[string]any)
	if message == nil {
		return nil, false
	}
	role := strings.ToLower(strings.TrimSpace(stringField(message, "role")))
	if role != "user" && role != "assistant" {
		return nil, false
	}
	blocks, ok := message["content"].([]any)
	if !ok {
		return nil, false
	}

	var textChunks, thoughtChunks []string
	for _, raw := range blocks {
		block, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(stringField(block, "type"))) {
		case "text":
			if v := strings.TrimSpace(stringField(block, "text")); v != "" {
				textChunks = append(textChunks, v)
			}
		case "thinking":
			if v := strings.TrimSpace(stringField(block, "thinking")); v != "" {
				thoughtChunks = append(thoughtChunks, v)
			}
		}
	}
	if len(textChunks) == 0 && len(thoughtChunks) == 0 {
		return nil, false
	}

	textPreview := flatten(textChunks)
	thoughtPreview := flatten(thoughtChunks)

	recentMessages := []string{}
	if textPreview != "" {
		recentMessages = []string{role + ": " + clipRunes(textPreview, previewLimit)}
	}
	recentThoughts := []string{}
	currentThought := ""
	if thoughtPreview != "" {
		recentThoughts = []string{clipRunes(thoughtPreview, previewLimit)}
		currentThought = recentThoughts[0]
	}

	ts := stringField(entry, "timestamp")
	if ts == "" {
		ts = event.UTCNowISO()
	}
	task := "Agent response"
	if role == "user" {
		task = "User interaction"
	}

	return map[string]any{
		"agent":           agent,
		"source":          "session-bridge",
		"type":            "session_update",
		"status":          "Active",
		"task":            task,
		"ts":              ts,
		"recent_messages": recentMessages,
		"recent_thoughts": recentThoughts,
		"current_thought": currentThought,
		"real_time":       true,
	}, true
}

// DedupeKey computes a stable identity for a transcript record. Records
// carrying a native id use it directly; the rest hash timestamp, role, and
// content so replays after rotation never double-publish.
func DedupeKey(entry map[string]any) string {
	if id := stringField(entry, "id"); id != "" {
		return "id:" + id
	}
	message, _ := entry["message"].(map[string]any)
	if message == nil {
		message = map[string]any{}
	}
	content := message["content"]
	if content == nil {
		content = []any{}
	}
	payload := map[string]any{
		"timestamp": stringField(entry, "timestamp"),
		"role":      stringField(message, "role"),
		"content":   content,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha1.Sum(raw)
	return "hash:" + hex.EncodeToString(sum[:])
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func flatten(chunks []string) string {
	return strings.TrimSpace(strings.ReplaceAll(strings.Join(chunks, " "), "\n", " "))
}

func clipRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
