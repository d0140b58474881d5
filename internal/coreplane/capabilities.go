package coreplane

import (
	"bytes"
	"encoding/json"
)

// ChannelFlags records which control-plane channels answered with a usable
// shape on the most recent poll cycle.
type ChannelFlags struct {
	AgentsList bool `json:"agents_list"`
	CronList   bool `json:"cron_list"`
	Status     bool `json:"status"`
	Presence   bool `json:"presence"`
}

// GraphLimits exposes tunables that shape derived views.
type GraphLimits struct {
	MaxActivations int `json:"max_activations"`
}

// Capabilities describes what the observatory can currently see. Served
// verbatim on the capabilities endpoint.
type Capabilities struct {
	Provider string       `json:"provider"`
	CLI      bool         `json:"openclaw_cli"`
	Channels ChannelFlags `json:"channels"`
	Graph    GraphLimits  `json:"graph"`
	Mode     string       `json:"mode"`
}

// ComputeCapabilities derives the capability record from one cycle's
// payloads. A channel counts as up only when its payload decoded into the
// expected shape, not merely when the CLI exited zero.
func ComputeCapabilities(runner Runner, p Payloads, mode string, maxActivations int) Capabilities {
	return Capabilities{
		Provider: "openclaw-cli",
		CLI:      runner.Available(),
		Channels: ChannelFlags{
			AgentsList: p.Agents != nil,
			CronList:   p.Cron != nil && p.Cron.Jobs != nil,
			Status:     p.Status != nil,
			Presence:   presenceUsable(p.Presence),
		},
		Graph: GraphLimits{MaxActivations: maxActivations},
		Mode:  mode,
	}
}

// presenceUsable accepts either a JSON array or object payload.
func presenceUsable(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{')
}
