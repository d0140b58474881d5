package drilldown

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/virgolamobile/observatory/internal/decision"
	"github.com/virgolamobile/observatory/internal/event"
	"github.com/virgolamobile/observatory/internal/state"
)

func seedStore(t *testing.T) (*state.Store, string) {
	t.Helper()
	store := state.New(state.ModeAuto)

	recent := int(3)
	ev := event.Event{
		Agent:          "Mercurio",
		Status:         "Active",
		Task:           "protect the mail queue",
		LastSeen:       "2026-02-12T12:00:00Z",
		CronJobs:       &recent,
		RecentMessages: []string{"user: the mail queue is growing fast"},
		RealTime:       true,
		Raw:            map[string]any{"agent": "Mercurio"},
	}
	store.MergeEvent(ev)

	nextMs := float64(time.Now().Add(time.Minute).UnixMilli())
	store.SetCron(map[string][]state.CronJob{
		"Mercurio": {{
			JobID: "j1", Name: "queue-sweep", Enabled: true,
			NextRunMs: &nextMs, LastStatus: "ok", Summary: "swept",
			RecentRuns: []state.CronRun{{
				TS: float64(time.Now().Add(-time.Minute).UnixMilli()),
				Action: "finished", Status: "ok", Summary: "swept",
			}},
		}},
	}, state.CronSummary{ActiveJobs: 1})
	return store, "Mercurio"
}

func newBuilder(t *testing.T, store *state.Store) *Builder {
	t.Helper()
	home := t.TempDir()
	workspace := filepath.Join(home, ".openclaw", "workspace-mercurio")
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		t.Fatal(err)
	}
	doc := "# Core Identity\n- always protect the mail queue\n"
	if err := os.WriteFile(filepath.Join(workspace, "SOUL.md"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return NewBuilder(store, decision.NewContextLoader(nil, home), 5)
}

func TestDepthLayers(t *testing.T) {
	store, agent := seedStore(t)
	builder := newBuilder(t, store)
	snap, ok := store.Get(agent)
	if !ok {
		t.Fatal("snapshot missing")
	}

	depth := builder.Depth(snap, 0, time.Now())

	if depth.Overview.Status != "Active" || depth.Overview.CronJobs != 3 {
		t.Errorf("overview = %+v", depth.Overview)
	}
	if depth.Overview.InterruptedTasks == nil {
		t.Error("interrupted tasks must serialize as an empty list")
	}
	if len(depth.Timeline) == 0 {
		t.Fatal("timeline empty")
	}
	if len(depth.Cron) != 1 || depth.Cron[0].Name != "queue-sweep" {
		t.Errorf("cron rows = %+v", depth.Cron)
	}
	if len(depth.CronTimeline) == 0 {
		t.Error("cron timeline empty")
	}
	if len(depth.ContextRoots) != 1 {
		t.Fatalf("context roots = %+v", depth.ContextRoots)
	}
	if len(depth.CausalGraph.Nodes) == 0 {
		t.Fatal("causal graph empty")
	}
	if depth.CausalGraph.Meta.MaxActivations != 5 {
		t.Errorf("max activations = %d, want configured default", depth.CausalGraph.Meta.MaxActivations)
	}
}

func TestDepthActivationOverride(t *testing.T) {
	store, agent := seedStore(t)
	builder := newBuilder(t, store)
	snap, _ := store.Get(agent)

	depth := builder.Depth(snap, 2, time.Now())
	if depth.CausalGraph.Meta.MaxActivations != 2 {
		t.Errorf("max activations = %d, want request override", depth.CausalGraph.Meta.MaxActivations)
	}

	depth = builder.Depth(snap, 999, time.Now())
	if depth.CausalGraph.Meta.MaxActivations != 24 {
		t.Errorf("max activations = %d, want clamped override", depth.CausalGraph.Meta.MaxActivations)
	}
}

func TestNodeDetail(t *testing.T) {
	store, agent := seedStore(t)
	builder := newBuilder(t, store)
	snap, _ := store.Get(agent)
	depth := builder.Depth(snap, 0, time.Now())

	agentID := "agent:mercurio"
	detail, ok := depth.Node(agentID)
	if !ok {
		t.Fatal("agent node not found")
	}
	if detail.Node.ID != agentID {
		t.Errorf("node id = %q", detail.Node.ID)
	}
	if len(detail.InboundEdges) == 0 {
		t.Error("agent node should have inbound context/activates edges")
	}
	for _, related := range detail.RelatedNodes {
		if related.ID == agentID {
			t.Error("related nodes must exclude the target itself")
		}
	}

	rootDetail, ok := depth.Node("root:0")
	if !ok {
		t.Fatal("root node not found")
	}
	if rootDetail.FileDetail == nil {
		t.Fatal("root node should resolve its file detail")
	}
	if filepath.Base(rootDetail.FileDetail.File) != "SOUL.md" {
		t.Errorf("file detail = %+v", rootDetail.FileDetail)
	}

	if _, ok := depth.Node("nope:1"); ok {
		t.Error("unknown node id should not resolve")
	}
}
