package causal

import (
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/virgolamobile/observatory/internal/decision"
	"github.com/virgolamobile/observatory/internal/state"
	"github.com/virgolamobile/observatory/internal/timeline"
)

func f64(v float64) *float64 { return &v }

func findNode(g Graph, id string) *Node {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

func findEdge(g Graph, source, target string) *Edge {
	for _, e := range g.Edges {
		if e.Source == source && e.Target == target {
			return e
		}
	}
	return nil
}

func weightOf(t *testing.T, n *Node) float64 {
	t.Helper()
	if n == nil {
		t.Fatal("node missing")
	}
	w, ok := n.Meta["weight"].(float64)
	if !ok {
		t.Fatalf("node %s has no weight", n.ID)
	}
	return w
}

func TestClampWeight(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{-3, 0.1}, {0, 0.1}, {0.1, 0.1}, {0.5, 0.5}, {1.9, 1.9}, {12, 1.9},
	}
	for _, c := range cases {
		if got := ClampWeight(c.in); got != c.want {
			t.Errorf("ClampWeight(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestConfidenceWeight(t *testing.T) {
	cases := map[string]float64{"high": 0.68, "medium": 0.48, "low": 0.34, "weird": 0.44, "": 0.44}
	for in, want := range cases {
		if got := ConfidenceWeight(in); got != want {
			t.Errorf("ConfidenceWeight(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestClampActivationCap(t *testing.T) {
	if got := ClampActivationCap(0); got != 1 {
		t.Errorf("cap(0) = %d", got)
	}
	if got := ClampActivationCap(100); got != 24 {
		t.Errorf("cap(100) = %d", got)
	}
	if got := ClampActivationCap(7); got != 7 {
		t.Errorf("cap(7) = %d", got)
	}
}

func TestAgentAndRootNodes(t *testing.T) {
	in := Input{
		Snapshot: state.Snapshot{Agent: "Mercurio", Status: "Active", Task: "triage"},
		ContextRoots: []decision.Root{
			{File: "/ws/SOUL.md", MatchedAnchors: []string{"a", "b"}},
			{File: "/ws/OPERATIONS.md"},
		},
	}
	g := Build(in, time.Now())

	agent := findNode(g, "agent:mercurio")
	if agent == nil || agent.Group != "agent" {
		t.Fatal("agent node missing")
	}
	if weightOf(t, agent) != 0.8 {
		t.Errorf("agent weight = %v", weightOf(t, agent))
	}

	root := findNode(g, "root:0")
	if root == nil || root.Label != "SOUL.md" {
		t.Fatal("root node missing")
	}
	if w := weightOf(t, root); math.Abs(w-0.76) > 1e-9 {
		t.Errorf("root weight = %v, want 0.56 + 2*0.1", w)
	}
	if w := weightOf(t, findNode(g, "root:1")); math.Abs(w-0.56) > 1e-9 {
		t.Errorf("anchorless root weight = %v", w)
	}

	edge := findEdge(g, "root:0", "agent:mercurio")
	if edge == nil || edge.Label != "context" {
		t.Fatal("context edge missing")
	}
	if edge.Meta["weight"].(float64) != 0.62 {
		t.Errorf("context edge weight = %v", edge.Meta["weight"])
	}
}

func TestActivationsDedupeAndCap(t *testing.T) {
	rows := []timeline.Entry{
		{TS: "2026-02-12T12:05:00Z", Source: "realtime", Type: "recent_user", Text: "fix the indexer"},
		{TS: "2026-02-12T12:04:00Z", Source: "realtime", Type: "recent_user", Text: "FIX THE INDEXER"},
		{TS: "2026-02-12T12:03:00Z", Source: "cron-run", Type: "cron_finished_ok", Text: "sweep done"},
		{TS: "2026-02-12T12:02:00Z", Source: "session", Type: "message", Text: "conversation text"},
		{TS: "", Source: "realtime", Type: "recent_user", Text: "no timestamp"},
		{TS: "2026-02-12T12:01:00Z", Source: "interaction", Type: "assistant_interaction", Text: "ping nyx"},
	}
	g := Build(Input{Snapshot: state.Snapshot{Agent: "M"}, Timeline: rows, MaxActivations: 3}, time.Now())

	if g.Meta.ActivationsShown != 3 {
		t.Fatalf("activations shown = %d, want 3 (dedupe + cap)", g.Meta.ActivationsShown)
	}
	// Newest first: the duplicated user request collapses into one node.
	first := findNode(g, "activation:0")
	if first.Label != "User asks: fix the indexer" {
		t.Errorf("activation:0 label = %q", first.Label)
	}
	if w := weightOf(t, first); math.Abs(w-0.72) > 1e-9 {
		t.Errorf("activation:0 weight = %v, want 0.54+0.18", w)
	}
	second := findNode(g, "activation:1")
	if second.Meta["activation_kind"] != "cron_trigger" {
		t.Errorf("activation:1 kind = %v", second.Meta["activation_kind"])
	}
	if findEdge(g, "activation:0", "agent:m") == nil {
		t.Error("activates edge missing")
	}
}

func TestDecisionNodesAndEdges(t *testing.T) {
	decisions := []decision.Decision{
		{
			TS: "2026-02-12T12:05:00Z", Decision: "restart the indexer",
			Confidence: "high", Evidence: []string{"user asked"},
			Why:        []string{"Recent user request", "Constraints/goals derived from workspace documents (SOUL/OPERATIONS/...)"},
			RootCauses: []decision.RootCause{{File: "/ws/SOUL.md", Anchors: []string{"x"}}},
		},
		{TS: "2026-02-12T12:00:00Z", Decision: "drain the queue", Confidence: "medium", Why: []string{"Continuous operational context"}},
	}
	roots := []decision.Root{{File: "/ws/SOUL.md", MatchedAnchors: []string{"x"}}}
	rows := []timeline.Entry{
		{TS: "2026-02-12T12:04:00Z", Source: "realtime", Type: "recent_user", Text: "indexer stuck"},
	}
	g := Build(Input{Snapshot: state.Snapshot{Agent: "M"}, Decisions: decisions, ContextRoots: roots, Timeline: rows}, time.Now())

	d0 := findNode(g, "decision:0")
	// high 0.68 + 1 evidence * 0.07 + 1 root * 0.05 + 0.2 recency = 1.0
	if w := weightOf(t, d0); math.Abs(w-1.0) > 1e-9 {
		t.Errorf("decision:0 weight = %v, want 1.0", w)
	}

	decides := findEdge(g, "agent:m", "decision:0")
	if decides == nil || decides.Label != "decides" {
		t.Fatal("decides edge missing")
	}
	if w := decides.Meta["weight"].(float64); math.Abs(w-0.85) > 1e-9 {
		t.Errorf("decides weight = %v, want 1.0-0.15", w)
	}

	if findEdge(g, "activation:0", "decision:0") == nil {
		t.Error("initiates edge missing for prior activation")
	}
	if findEdge(g, "decision:0", "decision:1") == nil {
		t.Error("evolves edge missing")
	}
	if findEdge(g, "root:0", "decision:0") == nil {
		t.Error("constrains edge missing")
	}

	reason := findNode(g, "reason:0:0")
	if reason == nil {
		t.Fatal("reason node missing")
	}
	// weight * 0.84 for the first reason.
	if w := weightOf(t, reason); math.Abs(w-0.84) > 1e-9 {
		t.Errorf("reason weight = %v", w)
	}
	signal := findNode(g, "signal:0")
	if signal == nil || signal.Label != "user asked" {
		t.Fatal("signal node missing")
	}
	if w := weightOf(t, signal); math.Abs(w-0.78) > 1e-9 {
		t.Errorf("signal weight = %v", w)
	}
	if findEdge(g, "signal:0", "decision:0") == nil || findEdge(g, "reason:0:0", "decision:0") == nil {
		t.Error("supports/motivates edges missing")
	}
}

func TestActionsAndOutcomes(t *testing.T) {
	cron := []timeline.CronEntry{
		{TSMs: 1770000000000, TS: "2026-02-02 01:00:00", Kind: "finished", Job: "sweep", Status: "ok", Summary: "swept"},
		{TSMs: 1770000060000, TS: "2026-02-02 01:01:00", Kind: "finished", Job: "sweep", Status: "error", Summary: "boom"},
		{TSMs: 1770000120000, TS: "2026-02-02 01:02:00", Kind: "skipped", Job: "sweep", Status: "ok", Summary: "not eligible"},
	}
	g := Build(Input{Snapshot: state.Snapshot{Agent: "M"}, CronTimeline: cron}, time.Now())

	if findNode(g, "action:2") != nil {
		t.Error("ineligible kind should not become an action")
	}
	okAction := findNode(g, "action:0")
	badAction := findNode(g, "action:1")
	if okAction == nil || badAction == nil {
		t.Fatal("action nodes missing")
	}
	// Failure bonus outweighs the ok bonus even with worse recency.
	if weightOf(t, badAction) <= weightOf(t, okAction) {
		t.Errorf("bad action %v should outweigh ok action %v",
			weightOf(t, badAction), weightOf(t, okAction))
	}

	// Without decisions, actions hang off the agent.
	if findEdge(g, "agent:m", "action:0") == nil {
		t.Error("acts edge missing")
	}

	okOutcome := findNode(g, "outcome:0")
	badOutcome := findNode(g, "outcome:1")
	if okOutcome == nil || badOutcome == nil {
		t.Fatal("outcome nodes missing")
	}
	if okOutcome.Group != "outcome_ok" || badOutcome.Group != "outcome_bad" {
		t.Errorf("groups = %s/%s", okOutcome.Group, badOutcome.Group)
	}
	if w := weightOf(t, okOutcome); math.Abs(w-weightOf(t, okAction)*0.92) > 1e-9 {
		t.Errorf("ok outcome weight = %v", w)
	}
	if w := weightOf(t, badOutcome); math.Abs(w-weightOf(t, badAction)*1.06) > 1e-9 {
		t.Errorf("bad outcome weight = %v", w)
	}
	if findEdge(g, "action:1", "outcome:1") == nil {
		t.Error("produces edge missing")
	}
	if g.Meta.OutcomesShown != 2 {
		t.Errorf("outcomes shown = %d", g.Meta.OutcomesShown)
	}
}

func TestActionsLinkToNearestPriorDecision(t *testing.T) {
	base := time.Date(2026, 2, 2, 1, 1, 0, 0, time.Local)
	decisions := []decision.Decision{
		{TS: base.Add(30 * time.Second).UTC().Format(time.RFC3339), Decision: "newer", Confidence: "high"},
		{TS: base.Add(-30 * time.Second).UTC().Format(time.RFC3339), Decision: "older", Confidence: "high"},
	}
	cron := []timeline.CronEntry{
		{TSMs: float64(base.UnixMilli()), TS: base.Format("2006-01-02 15:04:05"), Kind: "finished", Job: "sweep", Status: "ok"},
	}
	g := Build(Input{Snapshot: state.Snapshot{Agent: "M"}, Decisions: decisions, CronTimeline: cron}, time.Now())

	// Only the decision 30s before the action is prior to it.
	if findEdge(g, "decision:1", "action:0") == nil {
		t.Error("executes edge should link the nearest prior decision")
	}
	if findEdge(g, "decision:0", "action:0") != nil {
		t.Error("newer decision must not execute an older action")
	}
}

func TestAllWeightsClamped(t *testing.T) {
	var cron []timeline.CronEntry
	for i := 0; i < 20; i++ {
		cron = append(cron, timeline.CronEntry{
			TSMs: float64(1770000000000 + i*1000), TS: "2026-02-02 01:00:00",
			Kind: "finished", Job: "j" + strconv.Itoa(i), Status: "error",
		})
	}
	var decisions []decision.Decision
	for i := 0; i < 20; i++ {
		decisions = append(decisions, decision.Decision{
			TS: "2026-02-12T12:00:00Z", Decision: "d" + strconv.Itoa(i), Confidence: "high",
			Evidence: []string{"a", "b", "c", "d", "e", "f"},
		})
	}
	g := Build(Input{Snapshot: state.Snapshot{Agent: "M"}, Decisions: decisions, CronTimeline: cron}, time.Now())

	for _, node := range g.Nodes {
		w, ok := node.Meta["weight"].(float64)
		if !ok || w < 0.1 || w > 1.9 {
			t.Errorf("node %s weight %v out of range", node.ID, node.Meta["weight"])
		}
	}
	for _, edge := range g.Edges {
		w, ok := edge.Meta["weight"].(float64)
		if !ok || w < 0.1 || w > 1.9 {
			t.Errorf("edge %s->%s weight %v out of range", edge.Source, edge.Target, edge.Meta["weight"])
		}
	}
}

func TestBoundsDecisionAndActionCounts(t *testing.T) {
	var decisions []decision.Decision
	for i := 0; i < 30; i++ {
		decisions = append(decisions, decision.Decision{TS: "2026-02-12T12:00:00Z", Decision: "d" + strconv.Itoa(i)})
	}
	var cron []timeline.CronEntry
	for i := 0; i < 30; i++ {
		cron = append(cron, timeline.CronEntry{TSMs: float64(1770000000000 + i), TS: "x", Kind: "run", Status: "ok"})
	}
	g := Build(Input{Snapshot: state.Snapshot{Agent: "M"}, Decisions: decisions, CronTimeline: cron}, time.Now())

	if findNode(g, "decision:11") == nil || findNode(g, "decision:12") != nil {
		t.Error("decision nodes should cap at 12")
	}
	if g.Meta.OutcomesShown != maxActions {
		t.Errorf("actions = %d, want %d", g.Meta.OutcomesShown, maxActions)
	}
}

func TestLivenessMarksRecentActionAsTrigger(t *testing.T) {
	now := time.Now()
	tsMs := float64(now.Add(-2 * time.Second).UnixMilli())
	cron := []timeline.CronEntry{{
		TSMs: tsMs, TS: time.UnixMilli(int64(tsMs)).Format("2006-01-02 15:04:05"),
		Kind: "finished", Job: "sweep", Status: "ok", Summary: "swept",
	}}
	g := Build(Input{Snapshot: state.Snapshot{Agent: "M"}, CronTimeline: cron}, now)

	action := findNode(g, "action:0")
	if live, _ := action.Meta["live"].(bool); !live {
		t.Fatal("recent action should be live")
	}
	if trigger, _ := action.Meta["trigger_source"].(bool); !trigger {
		t.Error("newest live action should be the trigger source")
	}
	outcome := findNode(g, "outcome:0")
	if live, _ := outcome.Meta["live"].(bool); !live {
		t.Error("outcome inside its window should be live")
	}
	produces := findEdge(g, "action:0", "outcome:0")
	if live, _ := produces.Meta["live"].(bool); !live {
		t.Error("edge between live endpoints should be live")
	}
}

func TestLivenessExpires(t *testing.T) {
	now := time.Now()
	tsMs := float64(now.Add(-time.Hour).UnixMilli())
	cron := []timeline.CronEntry{{
		TSMs: tsMs, TS: time.UnixMilli(int64(tsMs)).Format("2006-01-02 15:04:05"),
		Kind: "finished", Job: "sweep", Status: "ok",
	}}
	g := Build(Input{Snapshot: state.Snapshot{Agent: "M"}, CronTimeline: cron}, now)

	action := findNode(g, "action:0")
	if live, _ := action.Meta["live"].(bool); live {
		t.Error("hour-old action must not be live")
	}
}

func TestLivenessAgentFallbackTrigger(t *testing.T) {
	now := time.Now()
	snap := state.Snapshot{
		Agent:    "Mercurio",
		LastSeen: now.Add(-2 * time.Second).UTC().Format("2006-01-02T15:04:05Z"),
	}
	g := Build(Input{Snapshot: snap}, now)

	agent := findNode(g, "agent:mercurio")
	if trigger, _ := agent.Meta["trigger_source"].(bool); !trigger {
		t.Error("just-seen agent should become the fallback trigger")
	}
	if live, _ := agent.Meta["live"].(bool); !live {
		t.Error("fallback trigger agent should be live")
	}
}

func TestLivenessNoTriggerWhenStale(t *testing.T) {
	now := time.Now()
	snap := state.Snapshot{
		Agent:    "Mercurio",
		LastSeen: now.Add(-time.Hour).UTC().Format("2006-01-02T15:04:05Z"),
	}
	g := Build(Input{Snapshot: snap}, now)
	agent := findNode(g, "agent:mercurio")
	if trigger, _ := agent.Meta["trigger_source"].(bool); trigger {
		t.Error("stale agent must not trigger")
	}
}

func TestFailureOutweighsSuccess(t *testing.T) {
	if OutcomeWeight(0.7, true) >= OutcomeWeight(0.7, false) {
		t.Error("bad outcomes should weigh more than good ones")
	}
	if ActionWeight(false, 0) <= ActionWeight(true, 0) {
		t.Error("failed actions should weigh more than successful ones")
	}
}
