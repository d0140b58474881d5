// Package causal renders one agent's activity as an explicit cause→effect
// graph: context documents constrain the agent, activations wake it,
// decisions follow from activations and reasons, actions execute decisions,
// and outcomes close the loop. Node and edge weights encode causal strength;
// a liveness pass marks what is happening right now.
package causal

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/virgolamobile/observatory/internal/decision"
	"github.com/virgolamobile/observatory/internal/event"
	"github.com/virgolamobile/observatory/internal/state"
	"github.com/virgolamobile/observatory/internal/timeline"
)

const (
	maxRoots         = 6
	maxDecisionNodes = 12
	maxReasonsPerDec = 2
	maxInitiates     = 2
	maxRootRefs      = 3
	maxActions       = 14

	nodeLabelLimit = 120
	edgeLabelLimit = 72
)

// Node is one graph vertex. Meta carries group-specific detail plus the
// clamped weight and, after the liveness pass, live-window markers.
type Node struct {
	ID    string         `json:"id"`
	Label string         `json:"label"`
	Group string         `json:"group"`
	Meta  map[string]any `json:"meta"`
}

// Edge is one directed cause→effect link.
type Edge struct {
	Source string         `json:"source"`
	Target string         `json:"target"`
	Label  string         `json:"label"`
	Meta   map[string]any `json:"meta"`
}

// Meta describes the generated graph.
type Meta struct {
	GeneratedAtTS    float64 `json:"generated_at_ts"`
	MaxActivations   int     `json:"max_activations"`
	ActivationsShown int     `json:"activations_shown"`
	OutcomesShown    int     `json:"outcomes_shown"`
}

// Graph is the full causal view for one agent.
type Graph struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
	Meta  Meta    `json:"meta"`
}

// Input bundles everything the builder consumes.
type Input struct {
	Snapshot       state.Snapshot
	Decisions      []decision.Decision
	CronTimeline   []timeline.CronEntry
	ContextRoots   []decision.Root
	Timeline       []timeline.Entry
	MaxActivations int
}

type builder struct {
	nodes    []*Node
	edges    []*Edge
	nodeByID map[string]*Node
	now      float64
}

// Build assembles the causal graph at the given instant.
func Build(in Input, now time.Time) Graph {
	b := &builder{
		nodeByID: make(map[string]*Node),
		now:      float64(now.UnixNano()) / 1e9,
	}

	agentID := b.addAgent(in.Snapshot)
	rootIDs := b.addRoots(in.ContextRoots, agentID)

	actCap := DefaultMaxActivations
	if in.MaxActivations > 0 {
		actCap = ClampActivationCap(in.MaxActivations)
	}
	activations := b.addActivations(in.Timeline, agentID, actCap)
	decisionIDs := b.addDecisions(in.Decisions, agentID, activations, rootIDs)
	actions := b.addActions(in.CronTimeline, agentID, in.Decisions, decisionIDs)
	b.addOutcomes(actions)

	b.markLive(in.Snapshot, agentID, activations, decisionIDs, in.Decisions, actions)

	return Graph{
		Nodes: b.nodes,
		Edges: b.edges,
		Meta: Meta{
			GeneratedAtTS:    b.now,
			MaxActivations:   actCap,
			ActivationsShown: len(activations),
			OutcomesShown:    len(actions),
		},
	}
}

func (b *builder) addNode(id, label, group string, meta map[string]any) *Node {
	if existing, dup := b.nodeByID[id]; dup {
		return existing
	}
	if meta == nil {
		meta = map[string]any{}
	}
	weight, ok := meta["weight"].(float64)
	if !ok {
		weight = 0.45
	}
	meta["weight"] = ClampWeight(weight)
	node := &Node{
		ID:    id,
		Label: event.ClipText(label, nodeLabelLimit),
		Group: group,
		Meta:  meta,
	}
	b.nodes = append(b.nodes, node)
	b.nodeByID[id] = node
	return node
}

func (b *builder) addEdge(source, target, label string, weight float64) {
	b.edges = append(b.edges, &Edge{
		Source: source,
		Target: target,
		Label:  event.ClipText(label, edgeLabelLimit),
		Meta:   map[string]any{"weight": ClampWeight(weight)},
	})
}

func (b *builder) nodeWeight(id string) float64 {
	node, ok := b.nodeByID[id]
	if !ok {
		return 0.45
	}
	w, ok := node.Meta["weight"].(float64)
	if !ok {
		return 0.45
	}
	return ClampWeight(w)
}

func (b *builder) addAgent(snap state.Snapshot) string {
	label := snap.Agent
	if label == "" {
		label = "Agent"
	}
	status := snap.Status
	if status == "" {
		status = "unknown"
	}
	id := "agent:" + event.NormalizeAgentName(label)
	b.addNode(id, label, "agent", map[string]any{
		"status": status,
		"task":   snap.Task,
		"weight": agentWeight,
	})
	return id
}

// addRoots links context documents to the agent and returns file→node-id.
func (b *builder) addRoots(roots []decision.Root, agentID string) map[string]string {
	rootIDs := make(map[string]string)
	if len(roots) > maxRoots {
		roots = roots[:maxRoots]
	}
	for idx, root := range roots {
		label := filepath.Base(root.File)
		if root.File == "" {
			label = "root-" + strconv.Itoa(idx+1)
		}
		id := "root:" + strconv.Itoa(idx)
		b.addNode(id, label, "root", map[string]any{
			"file":       root.File,
			"anchors":    root.MatchedAnchors,
			"root_index": idx,
			"jump_tab":   "soul",
			"weight":     RootWeight(len(root.MatchedAnchors)),
		})
		b.addEdge(id, agentID, "context", rootContextWeight)
		rootIDs[root.File] = id
	}
	return rootIDs
}

type activation struct {
	id   string
	ts   float64
	kind string
}

// addActivations classifies timeline entries into activation kinds, keeps
// the newest distinct ones up to the cap, and links them to the agent.
func (b *builder) addActivations(rows []timeline.Entry, agentID string, cap int) []activation {
	type candidate struct {
		ts    float64
		text  string
		kind  string
		index int
	}
	var candidates []candidate
	for idx, row := range rows {
		text := strings.TrimSpace(row.Text)
		ts := event.ParseAnyTS(row.TS)
		if ts <= 0 || text == "" {
			continue
		}
		entryType := strings.ToLower(row.Type)
		source := strings.ToLower(row.Source)

		var kind string
		switch {
		case strings.Contains(entryType, "user_interaction") || strings.HasPrefix(entryType, "recent_user"):
			kind = "user_request"
		case strings.Contains(entryType, "assistant_interaction"):
			kind = "agent_request"
		case strings.HasPrefix(entryType, "cron_") || source == "cron-run" || source == "cron":
			kind = "cron_trigger"
		case entryType == "message" && (source == "session" || source == "interaction"):
			kind = "conversation"
		default:
			continue
		}
		candidates = append(candidates, candidate{ts: ts, text: text, kind: kind, index: idx})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].ts != candidates[j].ts {
			return candidates[i].ts > candidates[j].ts
		}
		return candidates[i].index < candidates[j].index
	})

	seen := make(map[string]struct{})
	var picked []candidate
	for _, c := range candidates {
		key := c.kind + "|" + strings.ToLower(c.text)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		picked = append(picked, c)
		if len(picked) >= cap {
			break
		}
	}

	var out []activation
	for idx, c := range picked {
		var label string
		switch c.kind {
		case "user_request":
			label = "User asks: " + c.text
		case "agent_request":
			label = "Agent request: " + c.text
		case "cron_trigger":
			label = "Cron trigger: " + c.text
		default:
			label = "Activation: " + c.text
		}
		id := "activation:" + strconv.Itoa(idx)
		weight := ActivationWeight(idx)
		b.addNode(id, label, "activation", map[string]any{
			"ts":              c.ts,
			"activation_kind": c.kind,
			"jump_tab":        "timeline",
			"weight":          weight,
		})
		b.addEdge(id, agentID, "activates", weight)
		out = append(out, activation{id: id, ts: c.ts, kind: c.kind})
	}
	return out
}

// addDecisions builds decision nodes with their reasons, signals, and links
// to activations and context roots. Returns decision node ids in order.
func (b *builder) addDecisions(decisions []decision.Decision, agentID string, activations []activation, rootIDs map[string]string) []string {
	if len(decisions) > maxDecisionNodes {
		decisions = decisions[:maxDecisionNodes]
	}

	var decisionIDs []string
	for idx, dec := range decisions {
		evidenceCount := countNonEmpty(dec.Evidence)
		weight := DecisionWeight(strings.ToLower(strings.TrimSpace(dec.Confidence)),
			evidenceCount, len(dec.RootCauses), idx)

		id := "decision:" + strconv.Itoa(idx)
		confidence := dec.Confidence
		if confidence == "" {
			confidence = "n/a"
		}
		b.addNode(id, dec.Decision, "decision", map[string]any{
			"ts":             dec.TS,
			"confidence":     confidence,
			"why":            dec.Why,
			"decision_index": idx,
			"jump_tab":       "decisions",
			"weight":         weight,
		})

		decides := weight - decidesPenalty
		if decides < decidesFloor {
			decides = decidesFloor
		}
		b.addEdge(agentID, id, "decides", decides)

		decisionTS := event.ParseAnyTS(dec.TS)
		linked := activations
		if decisionTS > 0 {
			linked = nil
			for _, act := range activations {
				if act.ts <= decisionTS {
					linked = append(linked, act)
				}
			}
		}
		for i, act := range linked {
			if i >= maxInitiates {
				break
			}
			b.addEdge(act.id, id, "initiates", avgWeight(b.nodeWeight(act.id), weight))
		}

		if len(decisionIDs) > 0 {
			prevID := decisionIDs[len(decisionIDs)-1]
			b.addEdge(prevID, id, "evolves", avgWeight(b.nodeWeight(prevID), weight))
		}

		reasonIdx := 0
		for _, reason := range dec.Why {
			reason = strings.TrimSpace(reason)
			if reason == "" {
				continue
			}
			if reasonIdx >= maxReasonsPerDec {
				break
			}
			reasonID := "reason:" + strconv.Itoa(idx) + ":" + strconv.Itoa(reasonIdx)
			reasonWeight := ClampWeight(weight * (reasonBase - float64(reasonIdx)*reasonStep))
			b.addNode(reasonID, reason, "reason", map[string]any{
				"decision_index": idx,
				"jump_tab":       "decisions",
				"weight":         reasonWeight,
			})
			b.addEdge(reasonID, id, "motivates", reasonWeight)
			reasonIdx++
		}

		if first := firstNonEmpty(dec.Evidence); first != "" {
			signalID := "signal:" + strconv.Itoa(idx)
			signalWeight := ClampWeight(weight * signalScale)
			b.addNode(signalID, first, "signal", map[string]any{
				"decision_index": idx,
				"jump_tab":       "decisions",
				"weight":         signalWeight,
			})
			b.addEdge(signalID, id, "supports", signalWeight)
		}

		refs := dec.RootCauses
		if len(refs) > maxRootRefs {
			refs = refs[:maxRootRefs]
		}
		for _, ref := range refs {
			if rootID, ok := rootIDs[ref.File]; ok {
				b.addEdge(rootID, id, "constrains", avgWeight(b.nodeWeight(rootID), weight))
			}
		}

		decisionIDs = append(decisionIDs, id)
	}
	return decisionIDs
}

type actionNode struct {
	id     string
	entry  timeline.CronEntry
	absIdx int
}

// addActions renders the newest eligible cron events as action nodes, each
// executed by its nearest prior decision when one exists.
func (b *builder) addActions(cron []timeline.CronEntry, agentID string, decisions []decision.Decision, decisionIDs []string) []actionNode {
	type eligible struct {
		absIdx int
		entry  timeline.CronEntry
	}
	var pool []eligible
	for idx, entry := range cron {
		switch entry.Kind {
		case "finished", "next_run", "started", "run":
			pool = append(pool, eligible{absIdx: idx, entry: entry})
		}
	}
	total := len(pool)
	if total > maxActions {
		pool = pool[total-maxActions:]
	}

	decisionTimes := make([]float64, 0, len(decisionIDs))
	for i := range decisionIDs {
		decisionTimes = append(decisionTimes, event.ParseAnyTS(decisions[i].TS))
	}

	var out []actionNode
	for _, item := range pool {
		entry := item.entry
		id := "action:" + strconv.Itoa(item.absIdx)
		label := entry.Summary
		if label == "" {
			label = entry.Job
		}
		if label == "" {
			label = entry.Kind
		}
		status := strings.ToLower(strings.TrimSpace(entry.Status))
		weight := ActionWeight(statusIsOK(status), total-item.absIdx-1)
		b.addNode(id, label, "action", map[string]any{
			"ts":           entry.TS,
			"job":          entry.Job,
			"kind":         entry.Kind,
			"status":       entry.Status,
			"action_index": item.absIdx,
			"jump_tab":     "cron_timeline",
			"weight":       weight,
		})

		if len(decisionIDs) > 0 {
			actionTS := event.ParseAnyTS(entry.TS)
			decisionIdx := -1
			for i, ts := range decisionTimes {
				if ts > 0 && ts <= actionTS {
					decisionIdx = i
				}
			}
			if decisionIdx < 0 {
				decisionIdx = item.absIdx
				if decisionIdx > len(decisionIDs)-1 {
					decisionIdx = len(decisionIDs) - 1
				}
			}
			decisionID := decisionIDs[decisionIdx]
			b.addEdge(decisionID, id, "executes", avgWeight(b.nodeWeight(decisionID), weight))
		} else {
			b.addEdge(agentID, id, "acts", weight)
		}
		out = append(out, actionNode{id: id, entry: entry, absIdx: item.absIdx})
	}
	return out
}

// addOutcomes closes each action with an outcome node: healthy statuses
// damp the weight, failures amplify it.
func (b *builder) addOutcomes(actions []actionNode) {
	for _, action := range actions {
		status := strings.ToLower(strings.TrimSpace(action.entry.Status))
		ok := statusIsOK(status)
		group := "outcome_bad"
		if ok {
			group = "outcome_ok"
		}
		actionWeight := b.nodeWeight(action.id)
		outcomeWeight := OutcomeWeight(actionWeight, ok)
		outcomeID := "outcome:" + strconv.Itoa(action.absIdx)
		b.addNode(outcomeID, "Outcome "+status+": "+action.entry.Job, group, map[string]any{
			"status":       action.entry.Status,
			"ts":           action.entry.TS,
			"action_index": action.absIdx,
			"jump_tab":     "cron_timeline",
			"weight":       outcomeWeight,
		})
		b.addEdge(action.id, outcomeID, "produces", avgWeight(actionWeight, outcomeWeight))
	}
}

func countNonEmpty(items []string) int {
	n := 0
	for _, item := range items {
		if strings.TrimSpace(item) != "" {
			n++
		}
	}
	return n
}

func firstNonEmpty(items []string) string {
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
