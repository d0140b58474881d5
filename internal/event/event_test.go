package event

import (
	"reflect"
	"testing"
)

func TestShouldSkip(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want bool
	}{
		{"nil map", nil, true},
		{"system sender", map[string]any{"from": "system", "agent": "a"}, true},
		{"announcement", map[string]any{"type": "announcement", "agent": "a"}, true},
		{"no identity", map[string]any{"status": "Active"}, true},
		{"agent present", map[string]any{"agent": "mercurio"}, false},
		{"source present", map[string]any{"source": "session-bridge"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ShouldSkip(tc.raw); got != tc.want {
				t.Errorf("ShouldSkip(%v) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestNormalizeBasicEvent(t *testing.T) {
	raw := map[string]any{
		"agent":           "Mercurio",
		"status":          "Active",
		"task":            "Testing",
		"ts":              "2026-02-12T12:00:00Z",
		"recent_messages": []any{"hello"},
	}

	ev := Normalize(raw)

	if ev.Agent != "Mercurio" {
		t.Errorf("agent = %q, want Mercurio", ev.Agent)
	}
	if ev.LastSeen != "2026-02-12T12:00:00Z" {
		t.Errorf("last_seen = %q, want 2026-02-12T12:00:00Z", ev.LastSeen)
	}
	if !reflect.DeepEqual(ev.RecentMessages, []string{"hello"}) {
		t.Errorf("recent_messages = %v, want [hello]", ev.RecentMessages)
	}
	if !reflect.DeepEqual(ev.Raw, raw) {
		t.Errorf("raw payload not retained: %v", ev.Raw)
	}
}

func TestNormalizeAbsentFieldsStayAbsent(t *testing.T) {
	ev := Normalize(map[string]any{"agent": "nyx"})

	if ev.CronJobs != nil {
		t.Errorf("cron_jobs should be absent, got %v", *ev.CronJobs)
	}
	if ev.RecentMessages != nil {
		t.Errorf("recent_messages should be absent, got %v", ev.RecentMessages)
	}
	if ev.RecentThoughts != nil {
		t.Errorf("recent_thoughts should be absent, got %v", ev.RecentThoughts)
	}
	if ev.CPU != nil || ev.Mem != nil || ev.CurrentThought != nil {
		t.Error("cpu/mem/current_thought should be absent")
	}
	if ev.Status != "unknown" {
		t.Errorf("status default = %q, want unknown", ev.Status)
	}
	if !ev.RealTime {
		t.Error("real_time should default to true")
	}
}

func TestNormalizeExplicitEmptyIsNotAbsent(t *testing.T) {
	ev := Normalize(map[string]any{
		"agent":           "nyx",
		"recent_messages": []any{},
		"cpu":             "",
	})

	if ev.RecentMessages == nil {
		t.Error("explicitly empty recent_messages should stay non-nil")
	}
	if len(ev.RecentMessages) != 0 {
		t.Errorf("recent_messages = %v, want empty", ev.RecentMessages)
	}
	if ev.CPU == nil || *ev.CPU != "" {
		t.Error("explicitly empty cpu should be present and empty")
	}
}

func TestNormalizeIsPure(t *testing.T) {
	raw := map[string]any{"agent": "echo", "status": "Idle", "ts": "2026-01-01T00:00:00Z"}
	first := Normalize(raw)
	second := Normalize(raw)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("normalization not deterministic: %v vs %v", first, second)
	}
}

func TestNormalizeSourceFallback(t *testing.T) {
	ev := Normalize(map[string]any{"source": "session-bridge"})
	if ev.Agent != "session-bridge" {
		t.Errorf("agent = %q, want session-bridge", ev.Agent)
	}
}

func TestNormalizeAgentName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{" Agent ", "agent"},
		{"agent", "agent"},
		{"AGENT", "agent"},
		{"", ""},
		{"  Mercurio\t", "mercurio"},
	}
	for _, tc := range tests {
		if got := NormalizeAgentName(tc.in); got != tc.want {
			t.Errorf("NormalizeAgentName(%q) = %q, want %q", tc.in, got, tc.want)
		}
		if got := NormalizeAgentName(NormalizeAgentName(tc.in)); got != tc.want {
			t.Errorf("normalization not idempotent for %q", tc.in)
		}
	}
}

func TestDisplayAgentName(t *testing.T) {
	if got := DisplayAgentName("mercurio"); got != "Mercurio" {
		t.Errorf("DisplayAgentName = %q, want Mercurio", got)
	}
	if got := DisplayAgentName(""); got != "" {
		t.Errorf("DisplayAgentName(empty) = %q, want empty", got)
	}
}

func TestParseMessageActor(t *testing.T) {
	tests := []struct {
		in      string
		actor   string
		content string
	}{
		{"user: hello there", "user", "hello there"},
		{"assistant: working on it", "assistant", "working on it"},
		{"toolresult: exit 0", "tool", "exit 0"},
		{"plain status line", "system", "plain status line"},
		{"  USER: shouted  ", "user", "shouted"},
	}
	for _, tc := range tests {
		actor, content := ParseMessageActor(tc.in)
		if actor != tc.actor || content != tc.content {
			t.Errorf("ParseMessageActor(%q) = (%q, %q), want (%q, %q)",
				tc.in, actor, content, tc.actor, tc.content)
		}
	}
}

func TestDecodeJSONStream(t *testing.T) {
	out := DecodeJSONStream(`{"a":1} garbage {"b":2}`)
	if len(out) != 2 {
		t.Fatalf("decoded %d objects, want 2: %v", len(out), out)
	}
	if out[0]["a"] != float64(1) {
		t.Errorf("first object = %v, want {a:1}", out[0])
	}
	if out[1]["b"] != float64(2) {
		t.Errorf("second object = %v, want {b:2}", out[1])
	}
}

func TestDecodeJSONStreamEmptyAndGarbage(t *testing.T) {
	if out := DecodeJSONStream(""); len(out) != 0 {
		t.Errorf("empty input decoded %v", out)
	}
	if out := DecodeJSONStream("not json at all"); len(out) != 0 {
		t.Errorf("garbage input decoded %v", out)
	}
}

func TestClipText(t *testing.T) {
	if got := ClipText("short", 10); got != "short" {
		t.Errorf("ClipText = %q", got)
	}
	long := ClipText("abcdefghijklmnop", 10)
	if len([]rune(long)) != 10 {
		t.Errorf("clipped length = %d, want 10", len([]rune(long)))
	}
	if got := ClipText("line\nbreak", 30); got != "line break" {
		t.Errorf("newline not collapsed: %q", got)
	}
}
