package coreplane

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/virgolamobile/observatory/internal/event"
	"github.com/virgolamobile/observatory/internal/state"
)

const (
	recentRunsPerJob = 6
	nextUpLimit      = 8
	lastErrorsLimit  = 8
	nextActionLimit  = 220
)

// RunLog loads per-job execution records from job-specific JSONL logs.
type RunLog struct {
	dir string
}

// NewRunLog points at the directory holding <job-id>.jsonl run logs.
func NewRunLog(dir string) *RunLog {
	return &RunLog{dir: dir}
}

// Recent returns up to max decoded run records for a job, oldest first.
// Run logs are written by the platform and occasionally contain adjacent or
// torn JSON objects, so the tail is decoded as a stream rather than
// line-by-line.
func (l *RunLog) Recent(jobID string, max int) []state.CronRun {
	if jobID == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(l.dir, jobID+".jsonl"))
	if err != nil {
		return nil
	}
	var kept []string
	for _, line := range strings.Split(string(data), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	if len(kept) > max {
		kept = kept[len(kept)-max:]
	}

	var runs []state.CronRun
	for _, obj := range event.DecodeJSONStream(strings.Join(kept, "\n")) {
		runs = append(runs, decodeRun(obj))
	}
	if len(runs) > max {
		runs = runs[len(runs)-max:]
	}
	return runs
}

func decodeRun(obj map[string]any) state.CronRun {
	run := state.CronRun{
		Action:  stringOr(obj["action"], ""),
		Status:  stringOr(obj["status"], ""),
		Summary: stringOr(obj["summary"], ""),
	}
	if v, ok := numberValue(obj["ts"]); ok {
		run.TS = v
	}
	if v, ok := numberValue(obj["durationMs"]); ok {
		run.Duration = v
	}
	if v, ok := numberValue(obj["nextRunAtMs"]); ok {
		run.NextRunAt = v
	}
	return run
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fallback
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// BuildCronDetails turns the cron channel payload plus per-job run logs into
// display-keyed telemetry rows and the fleet summary. The result replaces the
// previous cycle's view wholesale.
func BuildCronDetails(p Payloads, runLog *RunLog) (map[string][]state.CronJob, state.CronSummary) {
	details := make(map[string][]state.CronJob)
	summary := state.CronSummary{NextUp: []state.NextUpEntry{}, LastErrors: []state.LastErrorEntry{}}
	if p.Cron == nil {
		return details, summary
	}

	var nextUp []state.NextUpEntry

	for _, job := range p.Cron.Jobs {
		agentID := job.NormalizedAgentID()
		if agentID == "" {
			continue
		}
		display := event.DisplayAgentName(agentID)

		runs := runLog.Recent(job.ID, recentRunsPerJob)
		var lastRun state.CronRun
		if len(runs) > 0 {
			lastRun = runs[len(runs)-1]
		}

		lastStatus := "unknown"
		row := state.CronJob{
			JobID:         job.ID,
			Name:          jobName(job),
			Enabled:       job.IsEnabled(),
			ScheduleKind:  "unknown",
			Interrupted:   false,
			WakeMode:      job.WakeMode,
			SessionTarget: job.SessionTarget,
			RecentRuns:    runs,
		}
		if job.Schedule != nil {
			if job.Schedule.Kind != "" {
				row.ScheduleKind = job.Schedule.Kind
			}
			row.EveryMs = job.Schedule.EveryMs
		}
		if job.State != nil {
			row.NextRunMs = job.State.NextRunAtMs
			row.LastRunMs = job.State.LastRunAtMs
			row.LastDuration = job.State.LastDurationMs
			if job.State.LastStatus != "" {
				lastStatus = job.State.LastStatus
			}
		}
		row.LastStatus = lastStatus
		row.NextRunAt = event.FormatTSMillis(deref(row.NextRunMs))
		row.LastRunAt = event.FormatTSMillis(deref(row.LastRunMs))
		row.Interrupted = lastStatus != "ok" && lastStatus != "success"

		payloadText := ""
		if job.Payload != nil {
			payloadText = job.Payload.Text
		}
		row.Summary = lastRun.Summary
		if row.Summary == "" {
			row.Summary = payloadText
		}
		row.NextAction = clipRunesCron(payloadText, nextActionLimit)

		details[display] = append(details[display], row)

		if row.Enabled && row.NextRunMs != nil {
			nextUp = append(nextUp, state.NextUpEntry{
				Agent:     display,
				Name:      row.Name,
				NextRunMs: *row.NextRunMs,
				NextRunAt: row.NextRunAt,
			})
		}
		if row.Interrupted {
			summary.LastErrors = append(summary.LastErrors, state.LastErrorEntry{
				Agent:   display,
				Name:    row.Name,
				Status:  lastStatus,
				Summary: row.Summary,
			})
		}
	}

	sort.SliceStable(nextUp, func(i, j int) bool {
		return nextUp[i].NextRunMs < nextUp[j].NextRunMs
	})
	if len(nextUp) > nextUpLimit {
		nextUp = nextUp[:nextUpLimit]
	}
	summary.NextUp = append(summary.NextUp, nextUp...)
	if len(summary.LastErrors) > lastErrorsLimit {
		summary.LastErrors = summary.LastErrors[:lastErrorsLimit]
	}

	for _, jobs := range details {
		for _, job := range jobs {
			if job.Enabled {
				summary.ActiveJobs++
			}
		}
	}
	return details, summary
}

func jobName(job CronJobRecord) string {
	if job.Name != "" {
		return job.Name
	}
	return "cron-job"
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func clipRunesCron(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
