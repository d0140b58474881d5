// Package insights aggregates the tracked fleet into the global dashboard
// payload: per-agent telemetry coverage, host resource usage, interaction
// buffers, and the cron digest.
package insights

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/virgolamobile/observatory/internal/event"
	"github.com/virgolamobile/observatory/internal/hostprobe"
	"github.com/virgolamobile/observatory/internal/state"
)

var (
	memPattern   = regexp.MustCompile(`(?i)([0-9]+(?:\.[0-9]+)?)\s*(kb|mb|gb|b)?`)
	tokenPattern = regexp.MustCompile(`(?i)tokens\s*[=:]\s*([0-9]+)`)
)

// GapRow flags one agent missing numeric telemetry.
type GapRow struct {
	Agent    string   `json:"agent"`
	Missing  []string `json:"missing"`
	Status   string   `json:"status"`
	LastSeen string   `json:"last_seen"`
}

// GapSummary counts telemetry coverage across the fleet.
type GapSummary struct {
	Agents        int `json:"agents"`
	RAMNumeric    int `json:"ram_numeric"`
	TokensNumeric int `json:"tokens_numeric"`
	BothNumeric   int `json:"both_numeric"`
}

// Gaps is the telemetry-coverage block.
type Gaps struct {
	Summary GapSummary `json:"summary"`
	Agents  []GapRow   `json:"agents"`
}

// Interactions carries both inferred exchange buffers, newest first.
type Interactions struct {
	UserAgent  []state.Interaction `json:"user_agent"`
	AgentAgent []state.Interaction `json:"agent_agent"`
}

// Cron is the fleet cron block.
type Cron struct {
	Summary state.CronSummary          `json:"summary"`
	ByAgent map[string][]state.CronJob `json:"by_agent"`
}

// Payload is the complete dashboard aggregation.
type Payload struct {
	GeneratedAt   string              `json:"generated_at"`
	Agents        []state.Snapshot    `json:"agents"`
	ResourceProbe hostprobe.Resources `json:"resource_probe"`
	TelemetryGaps Gaps                `json:"telemetry_gaps"`
	Interactions  Interactions        `json:"interactions"`
	Cron          Cron                `json:"cron"`
}

// Aggregator assembles insight payloads from the store and the host prober.
type Aggregator struct {
	store  *state.Store
	prober hostprobe.Prober
}

// NewAggregator wires an insight aggregator.
func NewAggregator(store *state.Store, prober hostprobe.Prober) *Aggregator {
	return &Aggregator{store: store, prober: prober}
}

// Build assembles one payload.
func (a *Aggregator) Build(ctx context.Context) Payload {
	agents := a.store.List()
	userAgent, agentAgent := a.store.Interactions()
	cronByAgent, cronSummary := a.store.Cron()

	summary := GapSummary{Agents: len(agents)}
	gapRows := []GapRow{}
	for _, snap := range agents {
		memMB := snapshotMemMB(snap)
		tokens := SnapshotTokens(snap)

		if memMB != nil {
			summary.RAMNumeric++
		}
		if tokens != nil {
			summary.TokensNumeric++
		}
		if memMB != nil && tokens != nil {
			summary.BothNumeric++
		}

		var missing []string
		if memMB == nil {
			missing = append(missing, "ram")
		}
		if tokens == nil {
			missing = append(missing, "tokens")
		}
		if len(missing) > 0 {
			gapRows = append(gapRows, GapRow{
				Agent:    orDefault(snap.Agent, "unknown"),
				Missing:  missing,
				Status:   orDefault(snap.Status, "unknown"),
				LastSeen: snap.LastSeen,
			})
		}
	}

	return Payload{
		GeneratedAt:   event.UTCNowISO(),
		Agents:        agents,
		ResourceProbe: a.prober.Probe(ctx),
		TelemetryGaps: Gaps{Summary: summary, Agents: gapRows},
		Interactions:  Interactions{UserAgent: userAgent, AgentAgent: agentAgent},
		Cron:          Cron{Summary: cronSummary, ByAgent: cronByAgent},
	}
}

// ParseMemMB extracts a megabyte figure from free-form memory telemetry:
// bare numbers are already megabytes, otherwise the unit suffix decides.
func ParseMemMB(raw any) *float64 {
	switch v := raw.(type) {
	case nil:
		return nil
	case float64:
		return &v
	case int:
		value := float64(v)
		return &value
	}
	text := strings.TrimSpace(toString(raw))
	if text == "" {
		return nil
	}
	match := memPattern.FindStringSubmatch(text)
	if match == nil {
		return nil
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return nil
	}
	switch strings.ToLower(match[2]) {
	case "gb":
		value *= 1024
	case "kb":
		value /= 1024
	case "b":
		value /= 1024 * 1024
	}
	return &value
}

// snapshotMemMB resolves an agent's memory figure from the runtime field
// first, then raw event payloads, then control-plane metadata.
func snapshotMemMB(snap state.Snapshot) *float64 {
	if strings.TrimSpace(snap.Mem) != "" {
		if mb := ParseMemMB(snap.Mem); mb != nil {
			return mb
		}
	}
	if snap.Raw != nil {
		if mb := ParseMemMB(snap.Raw["memory"]); mb != nil {
			return mb
		}
	}
	if snap.RawCore != nil {
		if mb := ParseMemMB(firstPresent(snap.RawCore, "memory", "rss")); mb != nil {
			return mb
		}
	}
	return nil
}

// SnapshotTokens resolves a total-token figure from control-plane metadata,
// raw event payloads, or token mentions inside recent messages.
func SnapshotTokens(snap state.Snapshot) *float64 {
	for _, raw := range []map[string]any{snap.RawCore, snap.Raw} {
		if raw == nil {
			continue
		}
		candidates := []any{raw["totalTokens"], raw["total_tokens"]}
		if usage, ok := raw["usage"].(map[string]any); ok {
			candidates = append(candidates, usage["totalTokens"], usage["total_tokens"])
		}
		for _, candidate := range candidates {
			if value, ok := toFloat(candidate); ok {
				return &value
			}
		}
	}
	for _, message := range snap.RecentMessages {
		if match := tokenPattern.FindStringSubmatch(message); match != nil {
			if value, err := strconv.ParseFloat(match[1], 64); err == nil {
				return &value
			}
		}
	}
	return nil
}

func firstPresent(raw map[string]any, keys ...string) any {
	for _, key := range keys {
		if value, ok := raw[key]; ok && value != nil && value != "" {
			return value
		}
	}
	return nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	}
	return ""
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
