package coreplane

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/virgolamobile/observatory/internal/metrics"
	"github.com/virgolamobile/observatory/internal/state"
)

type fakeRunner struct {
	available bool
	responses map[string]string
}

func (f *fakeRunner) Query(_ context.Context, channel string, _ ...string) json.RawMessage {
	raw, ok := f.responses[channel]
	if !ok {
		return nil
	}
	return json.RawMessage(raw)
}

func (f *fakeRunner) Available() bool { return f.available }

func healthyRunner() *fakeRunner {
	return &fakeRunner{
		available: true,
		responses: map[string]string{
			ChannelAgents: `[{"id":"mercurio","name":"Mercurio"},{"id":"nyx"}]`,
			ChannelCron: `{"jobs":[
				{"id":"job-1","name":"inbox sweep","agentId":"mercurio",
				 "schedule":{"kind":"interval","everyMs":60000},
				 "state":{"nextRunAtMs":9e15,"lastRunAtMs":1700000000000,"lastStatus":"ok","lastDurationMs":1500},
				 "payload":{"text":"sweep the inbox"},"wakeMode":"now"},
				{"id":"job-2","name":"failing job","agentId":"nyx",
				 "state":{"lastStatus":"error"},"payload":{"text":"doomed"}}
			]}`,
			ChannelStatus:   `{"sessions":{"recent":[{"agentId":"mercurio","updatedAt":1700000000000,"age":60000,"model":"sonnet","totalTokens":1234}]}}`,
			ChannelPresence: `[]`,
		},
	}
}

func TestFetchPayloadsDecodesChannels(t *testing.T) {
	p := FetchPayloads(context.Background(), healthyRunner())
	if len(p.Agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(p.Agents))
	}
	if p.Cron == nil || len(p.Cron.Jobs) != 2 {
		t.Fatal("cron jobs missing")
	}
	if p.Status == nil || len(p.Status.Sessions.Recent) != 1 {
		t.Fatal("status sessions missing")
	}
}

func TestFetchPayloadsToleratesDeadChannels(t *testing.T) {
	runner := &fakeRunner{responses: map[string]string{}}
	p := FetchPayloads(context.Background(), runner)
	if p.Agents != nil || p.Cron != nil || p.Status != nil || p.Presence != nil {
		t.Error("dead channels should decode to absent payloads")
	}
}

func TestComputeCapabilities(t *testing.T) {
	p := FetchPayloads(context.Background(), healthyRunner())
	caps := ComputeCapabilities(healthyRunner(), p, state.ModeAuto, 5)
	if !caps.CLI {
		t.Error("cli should be available")
	}
	if !caps.Channels.AgentsList || !caps.Channels.CronList || !caps.Channels.Status || !caps.Channels.Presence {
		t.Errorf("channels = %+v, want all up", caps.Channels)
	}
	if caps.Graph.MaxActivations != 5 || caps.Mode != state.ModeAuto || caps.Provider != "openclaw-cli" {
		t.Errorf("caps = %+v", caps)
	}

	down := ComputeCapabilities(&fakeRunner{}, Payloads{}, state.ModeAuto, 5)
	if down.CLI || down.Channels.AgentsList || down.Channels.Presence {
		t.Errorf("down caps = %+v, want all false", down)
	}
}

func TestBuildCronDetails(t *testing.T) {
	dir := t.TempDir()
	runs := `{"ts":1700000000000,"action":"finished","status":"ok","summary":"done","durationMs":900}
{"ts":1700000060000,"action":"finished","status":"ok","summary":"done again","durationMs":800}
`
	if err := os.WriteFile(filepath.Join(dir, "job-1.jsonl"), []byte(runs), 0o644); err != nil {
		t.Fatal(err)
	}

	p := FetchPayloads(context.Background(), healthyRunner())
	details, summary := BuildCronDetails(p, NewRunLog(dir))

	rows := details["Mercurio"]
	if len(rows) != 1 {
		t.Fatalf("mercurio rows = %d, want 1", len(rows))
	}
	row := rows[0]
	if row.LastStatus != "ok" || row.Interrupted {
		t.Errorf("row = %+v, want ok/not interrupted", row)
	}
	if len(row.RecentRuns) != 2 || row.RecentRuns[1].Summary != "done again" {
		t.Errorf("recent runs = %+v", row.RecentRuns)
	}
	if row.Summary != "done again" {
		t.Errorf("summary = %q, want last run summary", row.Summary)
	}
	if row.NextAction != "sweep the inbox" {
		t.Errorf("next_action = %q", row.NextAction)
	}

	nyx := details["Nyx"]
	if len(nyx) != 1 || !nyx[0].Interrupted {
		t.Fatalf("nyx rows = %+v, want one interrupted", nyx)
	}
	// No run log and no last entry: summary falls back to the payload text.
	if nyx[0].Summary != "doomed" {
		t.Errorf("nyx summary = %q", nyx[0].Summary)
	}

	if summary.ActiveJobs != 2 {
		t.Errorf("active jobs = %d, want 2", summary.ActiveJobs)
	}
	if len(summary.NextUp) != 1 || summary.NextUp[0].Agent != "Mercurio" {
		t.Errorf("next_up = %+v", summary.NextUp)
	}
	if len(summary.LastErrors) != 1 || summary.LastErrors[0].Status != "error" {
		t.Errorf("last_errors = %+v", summary.LastErrors)
	}
}

func TestRunLogDecodesConcatenatedObjects(t *testing.T) {
	dir := t.TempDir()
	// Two objects torn onto one line plus a garbage prefix.
	content := `garbage{"ts":1,"action":"run","status":"ok","summary":"a"}{"ts":2,"action":"run","status":"ok","summary":"b"}` + "\n"
	if err := os.WriteFile(filepath.Join(dir, "j.jsonl"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	runs := NewRunLog(dir).Recent("j", 8)
	if len(runs) != 2 || runs[0].Summary != "a" || runs[1].Summary != "b" {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestBuildCoreAgentStatesStatusPolicy(t *testing.T) {
	now := time.UnixMilli(1700000100000)

	t.Run("recent session reads active", func(t *testing.T) {
		p := Payloads{
			Agents: []AgentRecord{{ID: "mercurio", Name: "Mercurio"}},
			Status: &StatusPayload{},
		}
		p.Status.Sessions.Recent = []SessionRecord{{AgentID: "mercurio", UpdatedAt: 1700000000000, Age: 60000, Model: "sonnet"}}
		states := BuildCoreAgentStates(p, nil, state.ModeAuto, now)
		if len(states) != 1 {
			t.Fatal("no state built")
		}
		if states[0].Status != "Active" || states[0].Task != "Recent session activity detected" {
			t.Errorf("state = %q/%q", states[0].Status, states[0].Task)
		}
		if states[0].LastSeen != "2023-11-14T22:13:20Z" {
			t.Errorf("last_seen = %q", states[0].LastSeen)
		}
		if len(states[0].RecentMessages) != 1 || states[0].RecentMessages[0] != "session: model=sonnet" {
			t.Errorf("recent_messages = %v", states[0].RecentMessages)
		}
	})

	t.Run("stale session reads observed", func(t *testing.T) {
		p := Payloads{Agents: []AgentRecord{{ID: "mercurio"}}, Status: &StatusPayload{}}
		p.Status.Sessions.Recent = []SessionRecord{{AgentID: "mercurio", Age: 600000}}
		states := BuildCoreAgentStates(p, nil, state.ModeAuto, now)
		if states[0].Status != "Observed" {
			t.Errorf("status = %q", states[0].Status)
		}
	})

	t.Run("imminent cron run promotes to active", func(t *testing.T) {
		next := float64(now.UnixMilli() + 60000)
		p := Payloads{
			Agents: []AgentRecord{{ID: "mercurio"}},
			Cron: &CronList{Jobs: []CronJobRecord{{
				ID: "j", Name: "sweep", AgentID: "mercurio",
				State: &CronState{NextRunAtMs: &next},
			}}},
		}
		states := BuildCoreAgentStates(p, nil, state.ModeAuto, now)
		if states[0].Status != "Active" || states[0].Task != "Next cron run in 60s" {
			t.Errorf("state = %q/%q", states[0].Status, states[0].Task)
		}
	})

	t.Run("distant cron run keeps idle with countdown task", func(t *testing.T) {
		next := float64(now.UnixMilli() + 30*60*1000)
		p := Payloads{
			Agents: []AgentRecord{{ID: "mercurio"}},
			Cron: &CronList{Jobs: []CronJobRecord{{
				ID: "j", Name: "sweep", AgentID: "mercurio",
				State: &CronState{NextRunAtMs: &next},
			}}},
		}
		states := BuildCoreAgentStates(p, nil, state.ModeAuto, now)
		if states[0].Status != "Idle" || states[0].Task != "Next cron run in 30m" {
			t.Errorf("state = %q/%q", states[0].Status, states[0].Task)
		}
	})

	t.Run("interrupted jobs escalate to attention", func(t *testing.T) {
		p := Payloads{Agents: []AgentRecord{{ID: "mercurio", Name: "Mercurio"}}}
		details := map[string][]state.CronJob{
			"Mercurio": {{JobID: "j", Name: "sweep", Interrupted: true}},
		}
		states := BuildCoreAgentStates(p, details, state.ModeAuto, now)
		if states[0].Status != "Attention" || states[0].Task != "1 cron jobs are non-ok" {
			t.Errorf("state = %q/%q", states[0].Status, states[0].Task)
		}
		if len(states[0].InterruptedTasks) != 1 {
			t.Errorf("interrupted_tasks = %+v", states[0].InterruptedTasks)
		}
	})

	t.Run("no telemetry reads idle", func(t *testing.T) {
		p := Payloads{Agents: []AgentRecord{{ID: "mercurio"}}}
		states := BuildCoreAgentStates(p, nil, state.ModeAuto, now)
		if states[0].Status != "Idle" || states[0].Task != "Waiting for next core event" {
			t.Errorf("state = %q/%q", states[0].Status, states[0].Task)
		}
	})
}

func TestBuildCoreAgentStatesMissionNames(t *testing.T) {
	jobs := make([]CronJobRecord, 6)
	for i := range jobs {
		jobs[i] = CronJobRecord{ID: "j", Name: "job-" + string(rune('a'+i)), AgentID: "mercurio"}
	}
	p := Payloads{Agents: []AgentRecord{{ID: "mercurio"}}, Cron: &CronList{Jobs: jobs}}
	states := BuildCoreAgentStates(p, nil, state.ModeAuto, time.Now())
	if states[0].CronJobs != 6 {
		t.Errorf("cron_jobs = %d, want 6", states[0].CronJobs)
	}
	if len(states[0].ActiveMissions) != 4 {
		t.Errorf("missions = %v, want capped at 4", states[0].ActiveMissions)
	}
}

func TestPollerCycle(t *testing.T) {
	store := state.New(state.ModeAuto)
	notifier := &captureNotifier{}
	poller := NewPoller(healthyRunner(), store, notifier, NewRunLog(t.TempDir()),
		metrics.New(nil), zap.NewNop(), 5*time.Second, 5)

	poller.Cycle(context.Background())

	if !store.Ready() {
		t.Error("store should be ready after a populated cycle")
	}
	if store.Count() != 2 {
		t.Errorf("tracked = %d, want 2", store.Count())
	}
	if len(notifier.inits) != 1 {
		t.Fatalf("init pushes = %d, want 1", len(notifier.inits))
	}
	caps := poller.Capabilities()
	if !caps.Channels.AgentsList {
		t.Error("capabilities not refreshed")
	}
	if _, summary := store.Cron(); summary.ActiveJobs != 2 {
		t.Errorf("cron summary active jobs = %d, want 2", summary.ActiveJobs)
	}

	// Second cycle with identical payloads: no init, no updates.
	poller.Cycle(context.Background())
	if len(notifier.inits) != 1 {
		t.Errorf("init pushes after second cycle = %d, want 1", len(notifier.inits))
	}
}

func TestPollerCycleWithDeadControlPlane(t *testing.T) {
	store := state.New(state.ModeAuto)
	notifier := &captureNotifier{}
	poller := NewPoller(&fakeRunner{}, store, notifier, NewRunLog(t.TempDir()),
		metrics.New(nil), zap.NewNop(), 5*time.Second, 5)

	poller.Cycle(context.Background())

	if store.Ready() {
		t.Error("empty cycle must not mark the store ready")
	}
	if len(notifier.inits) != 0 || len(notifier.updates) != 0 {
		t.Error("empty cycle must not push")
	}
}

type captureNotifier struct {
	inits   [][]state.Snapshot
	updates []state.Snapshot
}

func (c *captureNotifier) Init(snaps []state.Snapshot) { c.inits = append(c.inits, snaps) }
func (c *captureNotifier) Update(s state.Snapshot)     { c.updates = append(c.updates, s) }
