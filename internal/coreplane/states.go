package coreplane

import (
	"strconv"
	"time"

	"github.com/virgolamobile/observatory/internal/event"
	"github.com/virgolamobile/observatory/internal/state"
)

const (
	// Session activity within this window reads as Active.
	activeSessionWindowMs = 300000
	// A cron run due within this window promotes the agent to Active.
	imminentRunWindowSec = 120

	maxMissionNames = 4
)

// BuildCoreAgentStates synthesizes one snapshot per registry agent from the
// cycle's payloads plus the already-built cron detail rows. Status escalates
// monotonically: Idle, then Observed or Active from session recency, Active
// again for an imminent cron run, and finally Attention when any of the
// agent's jobs last finished non-ok.
func BuildCoreAgentStates(p Payloads, cronDetails map[string][]state.CronJob, mode string, now time.Time) []state.Snapshot {
	jobsByAgent := make(map[string][]CronJobRecord)
	if p.Cron != nil {
		for _, job := range p.Cron.Jobs {
			id := job.NormalizedAgentID()
			if id == "" {
				continue
			}
			jobsByAgent[id] = append(jobsByAgent[id], job)
		}
	}

	recentByAgent := make(map[string]SessionRecord)
	if p.Status != nil {
		for _, entry := range p.Status.Sessions.Recent {
			id := event.NormalizeAgentName(entry.AgentID)
			if id == "" {
				continue
			}
			existing, seen := recentByAgent[id]
			if !seen || entry.UpdatedAt > existing.UpdatedAt {
				recentByAgent[id] = entry
			}
		}
	}

	nowMs := now.UnixMilli()
	var result []state.Snapshot
	for _, item := range p.Agents {
		agentID := event.NormalizeAgentName(item.ID)
		if agentID == "" {
			continue
		}
		display := item.Name
		if display == "" {
			display = event.DisplayAgentName(agentID)
		}

		var enabledJobs []CronJobRecord
		for _, job := range jobsByAgent[agentID] {
			if job.IsEnabled() {
				enabledJobs = append(enabledJobs, job)
			}
		}
		missions := []string{}
		for _, job := range enabledJobs {
			if job.Name == "" {
				continue
			}
			missions = append(missions, job.Name)
			if len(missions) >= maxMissionNames {
				break
			}
		}
		jobRows := cronDetails[display]

		var nextRunMs *float64
		for _, job := range enabledJobs {
			if job.State == nil || job.State.NextRunAtMs == nil || *job.State.NextRunAtMs <= 0 {
				continue
			}
			candidate := *job.State.NextRunAtMs
			if nextRunMs == nil || candidate < *nextRunMs {
				nextRunMs = &candidate
			}
		}

		status := "Idle"
		task := "Waiting for next core event"
		lastSeen := event.UTCNowISO()
		recentMessages := []string{}

		recent, hasRecent := recentByAgent[agentID]
		if hasRecent {
			if recent.UpdatedAt > 0 {
				lastSeen = time.UnixMilli(int64(recent.UpdatedAt)).UTC().Format("2006-01-02T15:04:05Z")
			}
			if recent.Age <= activeSessionWindowMs {
				status = "Active"
				task = "Recent session activity detected"
			} else {
				status = "Observed"
				task = "No recent session activity detected"
			}
			model := recent.Model
			if model == "" {
				model = "n/a"
			}
			if recent.TotalTokens != nil {
				recentMessages = append(recentMessages,
					"session: model="+model+", tokens="+strconv.FormatInt(int64(*recent.TotalTokens), 10))
			} else {
				recentMessages = append(recentMessages, "session: model="+model)
			}
		}

		if nextRunMs != nil {
			deltaSec := int64((*nextRunMs - float64(nowMs)) / 1000)
			if deltaSec < 0 {
				deltaSec = 0
			}
			task = "Next cron run in " + event.FormatSeconds(deltaSec)
			if deltaSec <= imminentRunWindowSec {
				status = "Active"
			}
		}

		interrupted := []state.CronJob{}
		for _, row := range jobRows {
			if row.Interrupted {
				interrupted = append(interrupted, row)
			}
		}
		if len(interrupted) > 0 {
			status = "Attention"
			task = strconv.Itoa(len(interrupted)) + " cron jobs are non-ok"
		}

		raw := map[string]any{
			"source":     "openclaw-core",
			"agentId":    agentID,
			"mode":       mode,
			"confidence": "high",
			"memory":     item.Memory,
			"mem":        item.Mem,
			"rss":        item.RSS,
		}
		if hasRecent {
			raw["model"] = recent.Model
			raw["updatedAt"] = recent.UpdatedAt
			raw["age"] = recent.Age
			if recent.TotalTokens != nil {
				raw["totalTokens"] = *recent.TotalTokens
			}
			if recent.InputTokens != nil {
				raw["inputTokens"] = *recent.InputTokens
			}
			if recent.OutputTokens != nil {
				raw["outputTokens"] = *recent.OutputTokens
			}
			if recent.ContextTokens != nil {
				raw["contextTokens"] = *recent.ContextTokens
			}
		}

		result = append(result, state.Snapshot{
			Agent:            display,
			Status:           status,
			Task:             task,
			LastSeen:         lastSeen,
			CronJobs:         len(enabledJobs),
			ActiveMissions:   missions,
			RecentMessages:   recentMessages,
			RecentThoughts:   []string{},
			RealTime:         true,
			Raw:              raw,
			CronDetails:      jobRows,
			InterruptedTasks: interrupted,
		})
	}
	return result
}
