// Package state holds the single source of truth for the observatory: a
// concurrency-safe map of agent identity to current snapshot, bounded
// interaction ring buffers, the interaction dedup index, and the derived
// cron summary. All shared mutable data lives behind one mutex; callers get
// deep copies out so nothing escapes the lock.
package state

import (
	"github.com/virgolamobile/observatory/internal/event"
)

// HistoryEntry is one persisted message or thought history row, mirroring
// the per-agent JSONL side log format.
type HistoryEntry struct {
	Type string `json:"type"`
	TS   string `json:"ts"`
	Text string `json:"text"`
}

// CronRun is one execution record from a job's run log.
type CronRun struct {
	TS        float64 `json:"ts"`
	Action    string  `json:"action"`
	Status    string  `json:"status"`
	Summary   string  `json:"summary"`
	Duration  float64 `json:"durationMs"`
	NextRunAt float64 `json:"nextRunAtMs"`
}

// CronJob is one scheduled job's definition plus a bounded tail of recent
// executions. Rebuilt wholesale on every poll cycle, never merged.
type CronJob struct {
	JobID         string    `json:"job_id"`
	Name          string    `json:"name"`
	Enabled       bool      `json:"enabled"`
	ScheduleKind  string    `json:"schedule_kind"`
	EveryMs       *float64  `json:"every_ms"`
	NextRunMs     *float64  `json:"next_run_ms"`
	NextRunAt     string    `json:"next_run_at"`
	LastRunMs     *float64  `json:"last_run_ms"`
	LastRunAt     string    `json:"last_run_at"`
	LastStatus    string    `json:"last_status"`
	LastDuration  *float64  `json:"last_duration_ms"`
	Interrupted   bool      `json:"interrupted"`
	Summary       string    `json:"summary"`
	NextAction    string    `json:"next_action"`
	WakeMode      string    `json:"wake_mode"`
	SessionTarget string    `json:"session_target"`
	RecentRuns    []CronRun `json:"recent_runs"`
}

// NextUpEntry is one row of the soonest-next-run list in the cron summary.
type NextUpEntry struct {
	Agent     string  `json:"agent"`
	Name      string  `json:"name"`
	NextRunMs float64 `json:"next_run_ms"`
	NextRunAt string  `json:"next_run_at"`
}

// LastErrorEntry is one row of the recent non-ok run list.
type LastErrorEntry struct {
	Agent   string `json:"agent"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Summary string `json:"summary"`
}

// CronSummary is the fleet-wide scheduled-job digest, replaced every cycle.
type CronSummary struct {
	ActiveJobs int              `json:"active_jobs"`
	NextUp     []NextUpEntry    `json:"next_up"`
	LastErrors []LastErrorEntry `json:"last_errors"`
}

// Snapshot is the authoritative current view of one agent. Exactly one
// snapshot exists per normalized identity; field semantics are
// replace-or-merge per the source that produced the update.
type Snapshot struct {
	Agent            string         `json:"agent"`
	Status           string         `json:"status"`
	Task             string         `json:"task"`
	LastSeen         string         `json:"last_seen"`
	CronJobs         int            `json:"cron_jobs"`
	ActiveMissions   []string       `json:"active_missions"`
	CPU              string         `json:"cpu"`
	Mem              string         `json:"mem"`
	RecentMessages   []string       `json:"recent_messages"`
	RecentThoughts   []string       `json:"recent_thoughts"`
	CurrentThought   string         `json:"current_thought"`
	RealTime         bool           `json:"real_time"`
	Raw              map[string]any `json:"raw"`
	RawCore          map[string]any `json:"raw_core,omitempty"`
	MessageHistory   []HistoryEntry `json:"message_history,omitempty"`
	ThoughtHistory   []HistoryEntry `json:"thought_history,omitempty"`
	CronDetails      []CronJob      `json:"cron_details"`
	InterruptedTask  string         `json:"interrupted_task,omitempty"`
	InterruptedTasks []CronJob      `json:"interrupted_tasks"`
}

// Clone returns a deep copy safe to use outside the store lock.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.ActiveMissions = cloneStrings(s.ActiveMissions)
	out.RecentMessages = cloneStrings(s.RecentMessages)
	out.RecentThoughts = cloneStrings(s.RecentThoughts)
	out.Raw = cloneMap(s.Raw)
	out.RawCore = cloneMap(s.RawCore)
	out.MessageHistory = append([]HistoryEntry(nil), s.MessageHistory...)
	out.ThoughtHistory = append([]HistoryEntry(nil), s.ThoughtHistory...)
	out.CronDetails = cloneCronJobs(s.CronDetails)
	out.InterruptedTasks = cloneCronJobs(s.InterruptedTasks)
	return out
}

// IsSystem reports whether the snapshot originated from system/announcement
// chatter and should be excluded from init payloads.
func (s Snapshot) IsSystem() bool {
	if s.Raw == nil {
		return false
	}
	if from, ok := s.Raw["from"].(string); ok && from == "system" {
		return true
	}
	if typ, ok := s.Raw["type"].(string); ok && typ == "announcement" {
		return true
	}
	return false
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneCronJobs(in []CronJob) []CronJob {
	if in == nil {
		return nil
	}
	out := make([]CronJob, len(in))
	for i, job := range in {
		out[i] = job
		out[i].RecentRuns = append([]CronRun(nil), job.RecentRuns...)
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// FromEvent seeds a fresh snapshot from a normalized event, filling absent
// optional fields with explicit empty defaults the way bootstrap does.
func FromEvent(ev event.Event) Snapshot {
	snap := Snapshot{
		Agent:          ev.Agent,
		Status:         ev.Status,
		Task:           ev.Task,
		LastSeen:       ev.LastSeen,
		ActiveMissions: []string{},
		RecentMessages: []string{},
		RecentThoughts: []string{},
		RealTime:       ev.RealTime,
		Raw:            ev.Raw,
		CronDetails:    []CronJob{},
	}
	if ev.CronJobs != nil {
		snap.CronJobs = *ev.CronJobs
	}
	if ev.ActiveMissions != nil {
		snap.ActiveMissions = ev.ActiveMissions
	}
	if ev.CPU != nil {
		snap.CPU = *ev.CPU
	}
	if ev.Mem != nil {
		snap.Mem = *ev.Mem
	}
	if ev.RecentMessages != nil {
		snap.RecentMessages = ev.RecentMessages
	}
	if ev.RecentThoughts != nil {
		snap.RecentThoughts = ev.RecentThoughts
	}
	if ev.CurrentThought != nil {
		snap.CurrentThought = *ev.CurrentThought
	}
	return snap
}
