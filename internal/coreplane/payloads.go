package coreplane

import (
	"context"
	"encoding/json"
	"strings"
)

// Channel names double as breaker identities and capability flags.
const (
	ChannelAgents   = "agents_list"
	ChannelCron     = "cron_list"
	ChannelStatus   = "status"
	ChannelPresence = "presence"
)

// Channels lists every control-plane channel the poller queries.
var Channels = []string{ChannelAgents, ChannelCron, ChannelStatus, ChannelPresence}

// AgentRecord is one row of the platform agent registry.
type AgentRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Workspace string `json:"workspace"`
	Memory    any    `json:"memory"`
	Mem       any    `json:"mem"`
	RSS       any    `json:"rss"`
}

// CronSchedule describes when a job fires.
type CronSchedule struct {
	Kind    string   `json:"kind"`
	EveryMs *float64 `json:"everyMs"`
}

// CronState is the platform's last-known execution state for a job.
type CronState struct {
	NextRunAtMs    *float64 `json:"nextRunAtMs"`
	LastRunAtMs    *float64 `json:"lastRunAtMs"`
	LastStatus     string   `json:"lastStatus"`
	LastDurationMs *float64 `json:"lastDurationMs"`
}

// CronPayloadBody carries the job's instruction text.
type CronPayloadBody struct {
	Text string `json:"text"`
}

// CronJobRecord is one scheduled job as reported by the cron channel.
type CronJobRecord struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	AgentID       string           `json:"agentId"`
	Enabled       *bool            `json:"enabled"`
	Schedule      *CronSchedule    `json:"schedule"`
	State         *CronState       `json:"state"`
	Payload       *CronPayloadBody `json:"payload"`
	WakeMode      string           `json:"wakeMode"`
	SessionTarget string           `json:"sessionTarget"`
}

// IsEnabled treats an absent enabled flag as true, matching the platform.
func (j CronJobRecord) IsEnabled() bool {
	return j.Enabled == nil || *j.Enabled
}

// NormalizedAgentID returns the job's agent identity in lookup form.
func (j CronJobRecord) NormalizedAgentID() string {
	return strings.ToLower(strings.TrimSpace(j.AgentID))
}

// CronList is the cron channel's top-level payload.
type CronList struct {
	Jobs []CronJobRecord `json:"jobs"`
}

// SessionRecord is one recent-session row from the status channel.
type SessionRecord struct {
	AgentID       string   `json:"agentId"`
	UpdatedAt     float64  `json:"updatedAt"`
	Age           float64  `json:"age"`
	Model         string   `json:"model"`
	TotalTokens   *float64 `json:"totalTokens"`
	InputTokens   *float64 `json:"inputTokens"`
	OutputTokens  *float64 `json:"outputTokens"`
	ContextTokens *float64 `json:"contextTokens"`
}

// StatusPayload is the status channel's top-level payload.
type StatusPayload struct {
	Sessions struct {
		Recent []SessionRecord `json:"recent"`
	} `json:"sessions"`
}

// Payloads bundles one poll cycle's decoded channel outputs. A nil slice or
// pointer means the channel was unavailable or returned an unusable shape;
// builders treat both identically.
type Payloads struct {
	Agents   []AgentRecord
	Cron     *CronList
	Status   *StatusPayload
	Presence json.RawMessage
}

// FetchPayloads queries all channels once. Decode failures degrade the
// affected channel to absent rather than failing the cycle.
func FetchPayloads(ctx context.Context, runner Runner) Payloads {
	var p Payloads

	if raw := runner.Query(ctx, ChannelAgents, "agents", "list"); raw != nil {
		var agents []AgentRecord
		if json.Unmarshal(raw, &agents) == nil {
			p.Agents = agents
		}
	}
	if raw := runner.Query(ctx, ChannelCron, "cron", "list"); raw != nil {
		var cron CronList
		if json.Unmarshal(raw, &cron) == nil {
			p.Cron = &cron
		}
	}
	if raw := runner.Query(ctx, ChannelStatus, "status"); raw != nil {
		var status StatusPayload
		if json.Unmarshal(raw, &status) == nil {
			p.Status = &status
		}
	}
	p.Presence = runner.Query(ctx, ChannelPresence, "system", "presence")

	return p
}
