// Package timeline assembles per-agent activity timelines from every
// evidence source the store carries: persisted session history, realtime
// message buffers, cron telemetry, and inferred interactions. The result
// feeds the decision tracer and the causal graph.
package timeline

import (
	"sort"
	"strings"
	"time"

	"github.com/virgolamobile/observatory/internal/event"
	"github.com/virgolamobile/observatory/internal/state"
)

// Per-source bounds keep one noisy source from drowning the rest.
const (
	historyTail      = 120
	realtimeTail     = 8
	runsPerJob       = 6
	entryTextLimit   = 500
	cronTimelineTail = 180
	cronRunsTail     = 8
)

// Entry is one unified timeline row.
type Entry struct {
	TS     string `json:"ts"`
	Source string `json:"source"`
	Type   string `json:"type"`
	Text   string `json:"text"`
}

// CronEntry is one chronological cron event: either a scheduled next run or
// a recorded execution.
type CronEntry struct {
	TSMs       float64  `json:"ts_ms"`
	TS         string   `json:"ts"`
	Kind       string   `json:"kind"`
	Job        string   `json:"job"`
	Status     string   `json:"status"`
	Summary    string   `json:"summary"`
	InSeconds  *int64   `json:"in_seconds,omitempty"`
	DurationMs *float64 `json:"duration_ms,omitempty"`
	NextRunMs  *float64 `json:"next_run_ms,omitempty"`
}

// BuildAgentTimeline merges session history, realtime buffers, cron
// telemetry, and user interactions into one newest-first timeline. Rows
// with the same source, type, and text collapse into the first occurrence;
// unparsable timestamps sort last.
func BuildAgentTimeline(snap state.Snapshot, interactions []state.Interaction) []Entry {
	var rows []Entry

	for _, h := range tailHistory(snap.MessageHistory) {
		rows = append(rows, Entry{TS: h.TS, Source: "session", Type: "message", Text: clip(h.Text)})
	}
	for _, h := range tailHistory(snap.ThoughtHistory) {
		rows = append(rows, Entry{TS: h.TS, Source: "session", Type: "thought", Text: clip(h.Text)})
	}

	for _, text := range tailStrings(snap.RecentMessages) {
		actor, content := event.ParseMessageActor(text)
		rows = append(rows, Entry{
			TS:     snap.LastSeen,
			Source: "realtime",
			Type:   "recent_" + actor,
			Text:   clip(content),
		})
	}
	for _, text := range tailStrings(snap.RecentThoughts) {
		rows = append(rows, Entry{TS: snap.LastSeen, Source: "realtime", Type: "recent_thought", Text: clip(text)})
	}

	for _, job := range snap.CronDetails {
		name := job.Name
		if name == "" {
			name = "cron"
		}
		rows = append(rows, Entry{
			TS:     job.LastRunAt,
			Source: "cron",
			Type:   "cron_last_run",
			Text:   clip(name + ": " + job.Summary),
		})
		runs := job.RecentRuns
		if len(runs) > runsPerJob {
			runs = runs[len(runs)-runsPerJob:]
		}
		for _, run := range runs {
			rows = append(rows, Entry{
				TS:     event.FormatTSMillis(run.TS),
				Source: "cron-run",
				Type:   "cron_" + orDefault(run.Action, "run") + "_" + orDefault(run.Status, "unknown"),
				Text:   clip(run.Summary),
			})
		}
	}

	for _, row := range interactions {
		rows = append(rows, Entry{
			TS:     row.TS,
			Source: "interaction",
			Type:   orDefault(row.Actor, "unknown") + "_interaction",
			Text:   clip(row.Text),
		})
	}

	rows = dedupe(rows)
	sort.SliceStable(rows, func(i, j int) bool {
		return event.ParseAnyTS(rows[i].TS) > event.ParseAnyTS(rows[j].TS)
	})
	return rows
}

// BuildCronTimeline renders one agent's cron rows as a chronological event
// list, oldest first, bounded to the newest entries.
func BuildCronTimeline(jobs []state.CronJob, now time.Time) []CronEntry {
	var items []CronEntry
	nowMs := now.UnixMilli()

	for _, job := range jobs {
		name := job.Name
		if name == "" {
			name = "cron"
		}
		if job.NextRunMs != nil {
			inSec := int64((*job.NextRunMs - float64(nowMs)) / 1000)
			if inSec < 0 {
				inSec = 0
			}
			items = append(items, CronEntry{
				TSMs:      *job.NextRunMs,
				TS:        event.FormatTSMillis(*job.NextRunMs),
				Kind:      "next_run",
				Job:       name,
				Status:    "scheduled",
				Summary:   job.NextAction,
				InSeconds: &inSec,
			})
		}
		runs := job.RecentRuns
		if len(runs) > cronRunsTail {
			runs = runs[len(runs)-cronRunsTail:]
		}
		for _, run := range runs {
			if run.TS <= 0 {
				continue
			}
			entry := CronEntry{
				TSMs:    run.TS,
				TS:      event.FormatTSMillis(run.TS),
				Kind:    orDefault(run.Action, "run"),
				Job:     name,
				Status:  orDefault(run.Status, "unknown"),
				Summary: run.Summary,
			}
			if run.Duration > 0 {
				d := run.Duration
				entry.DurationMs = &d
			}
			if run.NextRunAt > 0 {
				n := run.NextRunAt
				entry.NextRunMs = &n
			}
			items = append(items, entry)
		}
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].TSMs < items[j].TSMs })
	if len(items) > cronTimelineTail {
		items = items[len(items)-cronTimelineTail:]
	}
	return items
}

func dedupe(rows []Entry) []Entry {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0]
	for _, row := range rows {
		key := strings.ToLower(strings.TrimSpace(row.Source)) + "|" +
			strings.ToLower(strings.TrimSpace(row.Type)) + "|" +
			strings.ToLower(strings.TrimSpace(row.Text))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, row)
	}
	return out
}

func tailHistory(rows []state.HistoryEntry) []state.HistoryEntry {
	if len(rows) > historyTail {
		return rows[len(rows)-historyTail:]
	}
	return rows
}

func tailStrings(rows []string) []string {
	if len(rows) > realtimeTail {
		return rows[len(rows)-realtimeTail:]
	}
	return rows
}

func clip(text string) string {
	runes := []rune(text)
	if len(runes) <= entryTextLimit {
		return text
	}
	return string(runes[:entryTextLimit])
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
