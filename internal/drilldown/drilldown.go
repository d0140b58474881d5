// Package drilldown assembles the layered deep-dive view for one agent:
// overview, merged timeline, decision trace, cron rows, cron timeline,
// context roots, and the causal graph, plus node-level detail extraction.
package drilldown

import (
	"time"

	"github.com/virgolamobile/observatory/internal/causal"
	"github.com/virgolamobile/observatory/internal/decision"
	"github.com/virgolamobile/observatory/internal/event"
	"github.com/virgolamobile/observatory/internal/state"
	"github.com/virgolamobile/observatory/internal/timeline"
)

// Caps for the published depth payload and node neighborhoods.
const (
	timelineCap     = 180
	edgeNeighborCap = 30
)

// Overview is the headline block of a depth payload.
type Overview struct {
	Status           string          `json:"status"`
	Task             string          `json:"task"`
	LastSeen         string          `json:"last_seen"`
	CronJobs         int             `json:"cron_jobs"`
	InterruptedTasks []state.CronJob `json:"interrupted_tasks"`
}

// Depth is the full layered drilldown for one agent.
type Depth struct {
	Overview      Overview             `json:"overview"`
	Timeline      []timeline.Entry     `json:"timeline"`
	DecisionTrace []decision.Decision  `json:"decision_trace"`
	Cron          []state.CronJob      `json:"cron"`
	CronTimeline  []timeline.CronEntry `json:"cron_timeline"`
	ContextRoots  []decision.Root      `json:"context_roots"`
	CausalGraph   causal.Graph         `json:"causal_graph"`
}

// FileDetail carries the context-root excerpt behind a root node.
type FileDetail struct {
	File           string   `json:"file"`
	MatchedAnchors []string `json:"matched_anchors"`
	Sample         string   `json:"sample"`
}

// NodeDetail is the neighborhood view of one causal graph node.
type NodeDetail struct {
	Node          *causal.Node   `json:"node"`
	RelatedNodes  []*causal.Node `json:"related_nodes"`
	InboundEdges  []*causal.Edge `json:"inbound_edges"`
	OutboundEdges []*causal.Edge `json:"outbound_edges"`
	FileDetail    *FileDetail    `json:"file_detail"`
}

// Builder composes depth payloads from the store and the context loader.
type Builder struct {
	store          *state.Store
	loader         *decision.ContextLoader
	maxActivations int
}

// NewBuilder wires a depth builder. maxActivations is the configured graph
// cap, applied when a request does not override it.
func NewBuilder(store *state.Store, loader *decision.ContextLoader, maxActivations int) *Builder {
	return &Builder{
		store:          store,
		loader:         loader,
		maxActivations: causal.ClampActivationCap(maxActivations),
	}
}

// Depth builds all drilldown layers for one snapshot at the given instant.
// maxActivations <= 0 falls back to the configured cap.
func (b *Builder) Depth(snap state.Snapshot, maxActivations int, now time.Time) Depth {
	interactions := b.store.UserInteractionsFor(snap.Agent)
	rows := timeline.BuildAgentTimeline(snap, interactions)

	cronJobs := b.store.CronDetailsFor(snap.Agent)
	cronRows := timeline.BuildCronTimeline(cronJobs, now)

	roots := b.loader.Roots(snap)
	decisions := decision.InferTrace(event.NormalizeAgentName(snap.Agent), rows, roots)

	if maxActivations <= 0 {
		maxActivations = b.maxActivations
	}
	graph := causal.Build(causal.Input{
		Snapshot:       snap,
		Decisions:      decisions,
		CronTimeline:   cronRows,
		ContextRoots:   roots,
		Timeline:       rows,
		MaxActivations: maxActivations,
	}, now)

	published := rows
	if len(published) > timelineCap {
		published = published[:timelineCap]
	}

	interrupted := snap.InterruptedTasks
	if interrupted == nil {
		interrupted = []state.CronJob{}
	}
	return Depth{
		Overview: Overview{
			Status:           orDefault(snap.Status, "unknown"),
			Task:             snap.Task,
			LastSeen:         snap.LastSeen,
			CronJobs:         snap.CronJobs,
			InterruptedTasks: interrupted,
		},
		Timeline:      published,
		DecisionTrace: decisions,
		Cron:          cronJobs,
		CronTimeline:  cronRows,
		ContextRoots:  roots,
		CausalGraph:   graph,
	}
}

// Node extracts one graph node with its bounded neighborhood from a depth
// payload. Returns false when the node id is unknown.
func (d Depth) Node(nodeID string) (NodeDetail, bool) {
	var node *causal.Node
	for _, n := range d.CausalGraph.Nodes {
		if n.ID == nodeID {
			node = n
			break
		}
	}
	if node == nil {
		return NodeDetail{}, false
	}

	var inbound, outbound []*causal.Edge
	for _, edge := range d.CausalGraph.Edges {
		if edge.Target == nodeID && len(inbound) < edgeNeighborCap {
			inbound = append(inbound, edge)
		}
		if edge.Source == nodeID && len(outbound) < edgeNeighborCap {
			outbound = append(outbound, edge)
		}
	}

	relatedIDs := make(map[string]struct{})
	for _, edge := range inbound {
		relatedIDs[edge.Source] = struct{}{}
		relatedIDs[edge.Target] = struct{}{}
	}
	for _, edge := range outbound {
		relatedIDs[edge.Source] = struct{}{}
		relatedIDs[edge.Target] = struct{}{}
	}
	var related []*causal.Node
	for _, n := range d.CausalGraph.Nodes {
		if len(related) >= edgeNeighborCap {
			break
		}
		if _, ok := relatedIDs[n.ID]; ok && n.ID != nodeID {
			related = append(related, n)
		}
	}

	detail := NodeDetail{
		Node:          node,
		RelatedNodes:  related,
		InboundEdges:  inbound,
		OutboundEdges: outbound,
	}
	if file, ok := node.Meta["file"].(string); ok && file != "" {
		for _, root := range d.ContextRoots {
			if root.File == file {
				detail.FileDetail = &FileDetail{
					File:           root.File,
					MatchedAnchors: root.MatchedAnchors,
					Sample:         root.Sample,
				}
				break
			}
		}
	}
	return detail, true
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
