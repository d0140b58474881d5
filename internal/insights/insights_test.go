package insights

import (
	"context"
	"testing"

	"github.com/virgolamobile/observatory/internal/event"
	"github.com/virgolamobile/observatory/internal/hostprobe"
	"github.com/virgolamobile/observatory/internal/state"
)

type staticProber struct{ sample hostprobe.Resources }

func (p staticProber) Probe(context.Context) hostprobe.Resources { return p.sample }

func TestParseMemMB(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{nil, 0, false},
		{"", 0, false},
		{"not a number", 0, false},
		{128.5, 128.5, true},
		{42, 42, true},
		{"256", 256, true},
		{"1.5 GB", 1536, true},
		{"2048kb", 2, true},
		{"1048576 B", 1, true},
		{"512 MB resident", 512, true},
	}
	for _, c := range cases {
		got := ParseMemMB(c.in)
		if c.ok != (got != nil) {
			t.Errorf("ParseMemMB(%v) presence = %v, want %v", c.in, got != nil, c.ok)
			continue
		}
		if got != nil && *got != c.want {
			t.Errorf("ParseMemMB(%v) = %v, want %v", c.in, *got, c.want)
		}
	}
}

func TestSnapshotTokens(t *testing.T) {
	snap := state.Snapshot{RawCore: map[string]any{"totalTokens": 1234.0}}
	if got := SnapshotTokens(snap); got == nil || *got != 1234 {
		t.Errorf("core totalTokens = %v", got)
	}

	snap = state.Snapshot{Raw: map[string]any{"usage": map[string]any{"total_tokens": "987"}}}
	if got := SnapshotTokens(snap); got == nil || *got != 987 {
		t.Errorf("raw usage tokens = %v", got)
	}

	snap = state.Snapshot{RecentMessages: []string{"assistant: done, tokens=4321 in this turn"}}
	if got := SnapshotTokens(snap); got == nil || *got != 4321 {
		t.Errorf("message-mined tokens = %v", got)
	}

	if got := SnapshotTokens(state.Snapshot{}); got != nil {
		t.Errorf("empty snapshot tokens = %v", got)
	}
}

func TestBuildTelemetryGaps(t *testing.T) {
	store := state.New(state.ModeAuto)
	mem := "512MB"
	store.MergeEvent(event.Event{
		Agent: "full", Status: "Active", LastSeen: "2026-02-12T12:00:00Z",
		Mem: &mem, Raw: map[string]any{"totalTokens": 10.0},
	})
	store.MergeEvent(event.Event{
		Agent: "bare", Status: "Idle", LastSeen: "2026-02-12T12:00:00Z",
		Raw: map[string]any{},
	})
	store.SetCron(map[string][]state.CronJob{"Full": {{Name: "sweep"}}},
		state.CronSummary{ActiveJobs: 1})

	util := 33.0
	agg := NewAggregator(store, staticProber{hostprobe.Resources{GPUUtilPercent: &util, GPUSource: "nvidia-smi"}})
	payload := agg.Build(context.Background())

	if len(payload.Agents) != 2 {
		t.Fatalf("agents = %d", len(payload.Agents))
	}
	s := payload.TelemetryGaps.Summary
	if s.Agents != 2 || s.RAMNumeric != 1 || s.TokensNumeric != 1 || s.BothNumeric != 1 {
		t.Errorf("summary = %+v", s)
	}
	if len(payload.TelemetryGaps.Agents) != 1 {
		t.Fatalf("gap rows = %+v", payload.TelemetryGaps.Agents)
	}
	row := payload.TelemetryGaps.Agents[0]
	if row.Agent != "bare" || len(row.Missing) != 2 {
		t.Errorf("gap row = %+v", row)
	}
	if payload.ResourceProbe.GPUSource != "nvidia-smi" {
		t.Errorf("resource probe = %+v", payload.ResourceProbe)
	}
	if payload.Cron.Summary.ActiveJobs != 1 || len(payload.Cron.ByAgent["Full"]) != 1 {
		t.Errorf("cron block = %+v", payload.Cron)
	}
	if payload.GeneratedAt == "" {
		t.Error("generated_at empty")
	}
}
