// Package event defines the canonical telemetry event shape shared by every
// ingestion path (bus tailer, session bridge, core poller) and the defensive
// decoders that turn raw heterogeneous records into it. Normalization is a
// pure function: the same raw record always yields the same Event, and
// optional fields that were not provided stay absent rather than being
// coerced to zero values, so downstream merges can tell "not sent" apart
// from "sent empty".
package event

// Event is the canonical normalized telemetry unit. Optional fields use
// pointer or nil-slice sentinels: nil means the source did not provide the
// field at all. The original payload is retained untouched in Raw for
// downstream consumers (insights token parsing, workspace resolution).
type Event struct {
	Agent          string         `json:"agent"`
	Status         string         `json:"status"`
	Task           string         `json:"task"`
	LastSeen       string         `json:"last_seen"`
	CronJobs       *int           `json:"cron_jobs"`
	ActiveMissions []string       `json:"active_missions"`
	CPU            *string        `json:"cpu"`
	Mem            *string        `json:"mem"`
	RecentMessages []string       `json:"recent_messages"`
	RecentThoughts []string       `json:"recent_thoughts"`
	CurrentThought *string        `json:"current_thought"`
	RealTime       bool           `json:"real_time"`
	Raw            map[string]any `json:"raw"`
}

// ShouldSkip reports whether a raw bus record must not update agent state:
// system/announcement chatter and records that identify no agent at all.
func ShouldSkip(raw map[string]any) bool {
	if raw == nil {
		return true
	}
	if s, ok := raw["from"].(string); ok && s == "system" {
		return true
	}
	if s, ok := raw["type"].(string); ok && s == "announcement" {
		return true
	}
	_, hasAgent := raw["agent"]
	_, hasSource := raw["source"]
	return !hasAgent && !hasSource
}

// Normalize maps an accepted raw record into the canonical Event shape.
// Missing optional fields remain nil; the untouched payload is kept in Raw.
func Normalize(raw map[string]any) Event {
	agent := stringField(raw, "agent")
	if agent == "" {
		agent = stringField(raw, "source")
	}
	if agent == "" {
		agent = "unknown"
	}

	ev := Event{
		Agent:    agent,
		Status:   stringFieldDefault(raw, "status", "unknown"),
		Task:     stringField(raw, "task"),
		LastSeen: stringField(raw, "ts"),
		RealTime: true,
		Raw:      raw,
	}
	if ev.LastSeen == "" {
		ev.LastSeen = stringField(raw, "time")
	}
	if ev.LastSeen == "" {
		ev.LastSeen = UTCNowISO()
	}

	if v, ok := raw["cron_jobs"]; ok {
		if n, ok := intValue(v); ok {
			ev.CronJobs = &n
		} else {
			zero := 0
			ev.CronJobs = &zero
		}
	}
	if v, ok := raw["active_missions"]; ok {
		ev.ActiveMissions = stringSlice(v)
		if ev.ActiveMissions == nil {
			ev.ActiveMissions = []string{}
		}
	}
	if v, ok := raw["cpu"]; ok {
		s := anyToString(v)
		ev.CPU = &s
	}
	if v, ok := raw["mem"]; ok {
		s := anyToString(v)
		ev.Mem = &s
	}
	if v, ok := raw["recent_messages"]; ok {
		ev.RecentMessages = stringSlice(v)
		if ev.RecentMessages == nil {
			ev.RecentMessages = []string{}
		}
	}
	if v, ok := raw["recent_thoughts"]; ok {
		ev.RecentThoughts = stringSlice(v)
		if ev.RecentThoughts == nil {
			ev.RecentThoughts = []string{}
		}
	}
	if v, ok := raw["current_thought"]; ok {
		s := anyToString(v)
		ev.CurrentThought = &s
	}
	if v, ok := raw["real_time"]; ok {
		if b, ok := v.(bool); ok {
			ev.RealTime = b
		}
	}
	return ev
}

func stringField(raw map[string]any, key string) string {
	if v, ok := raw[key]; ok {
		return anyToString(v)
	}
	return ""
}

func stringFieldDefault(raw map[string]any, key, def string) string {
	if v, ok := raw[key]; ok {
		if s := anyToString(v); s != "" {
			return s
		}
	}
	return def
}
