package causal

import (
	"strconv"
	"strings"

	"github.com/virgolamobile/observatory/internal/decision"
	"github.com/virgolamobile/observatory/internal/event"
	"github.com/virgolamobile/observatory/internal/state"
)

// Liveness windows, in seconds. A node is live when the build instant falls
// inside its activity window; the window never extends more than
// maxLiveFromStart past the activity's start.
const (
	liveTailSec        = 5.0
	maxLiveFromStart   = 5.0
	fallbackLiveWindow = 0.25

	activationActivity = 0.8
	activationMinDur   = 0.6

	decisionChainDur = 1.2
	decisionFirstDur = 1.8
	decisionMinDur   = 0.8

	actionOpenDur = 3.0
	actionDoneDur = 1.2
	actionElseDur = 1.0
	actionMinDur  = 1.0

	outcomeDur    = 1.2
	outcomeMinDur = 0.9

	agentPulseDur = 0.8
)

// setLive marks a node live when now falls within [start, expires], where
// expires = min(start + maxLiveFromStart, start + duration + liveTailSec).
func (b *builder) setLive(nodeID string, startTS, durationSec float64) bool {
	if nodeID == "" || startTS <= 0 {
		return false
	}
	if durationSec < 0 {
		durationSec = 0
	}
	expires := startTS + durationSec + liveTailSec
	if capped := startTS + maxLiveFromStart; capped < expires {
		expires = capped
	}
	if expires <= startTS {
		expires = startTS + fallbackLiveWindow
	}
	if b.now < startTS || b.now > expires {
		return false
	}
	node, ok := b.nodeByID[nodeID]
	if !ok {
		return false
	}
	node.Meta["live"] = true
	node.Meta["live_started_at"] = startTS
	node.Meta["live_expires_at"] = expires
	node.Meta["activity_duration_sec"] = durationSec
	return true
}

// setLiveWindow marks a node live for an explicit [start, end] window,
// stretched to at least minDuration.
func (b *builder) setLiveWindow(nodeID string, startTS, endTS, minDuration float64) bool {
	if nodeID == "" || startTS <= 0 || endTS <= 0 {
		return false
	}
	effectiveEnd := endTS
	if floor := startTS + minDuration; floor > effectiveEnd {
		effectiveEnd = floor
	}
	duration := effectiveEnd - startTS
	if duration < 0 {
		duration = 0
	}
	return b.setLive(nodeID, startTS, duration)
}

// markLive runs the liveness pass: windows per node group, a single trigger
// source (the newest live action, else decision, else activation, else the
// agent itself when just seen), and edge liveness derived from endpoints.
func (b *builder) markLive(snap state.Snapshot, agentID string, activations []activation, decisionIDs []string, decisions []decision.Decision, actions []actionNode) {
	lastSeenTS := event.ParseAnyTS(snap.LastSeen)

	var liveActivations, liveDecisions, liveActions []liveNode

	for _, act := range activations {
		if act.ts <= 0 {
			continue
		}
		if b.setLiveWindow(act.id, act.ts, act.ts+activationActivity, activationMinDur) {
			liveActivations = append(liveActivations, liveNode{id: act.id, ts: act.ts})
		}
	}

	decisionTS := make([]float64, len(decisionIDs))
	for i := range decisionIDs {
		decisionTS[i] = event.ParseAnyTS(decisions[i].TS)
	}
	for idx, id := range decisionIDs {
		startTS := decisionTS[idx]
		if startTS <= 0 {
			continue
		}
		var endTS float64
		if idx > 0 {
			// A decision stays live until the next newer decision lands.
			if newer := decisionTS[idx-1]; newer > startTS {
				endTS = newer
			} else {
				endTS = startTS + decisionChainDur
			}
		} else {
			if lastSeenTS > 0 && lastSeenTS >= startTS {
				endTS = minFloat(lastSeenTS, b.now)
			} else {
				endTS = minFloat(b.now, startTS+decisionFirstDur)
			}
		}
		if b.setLiveWindow(id, startTS, endTS, decisionMinDur) {
			liveDecisions = append(liveDecisions, liveNode{id: id, ts: startTS})
			// Reasons and the signal pulse with their decision.
			prefix := "reason:" + strconv.Itoa(idx) + ":"
			signalID := "signal:" + strconv.Itoa(idx)
			for _, node := range b.nodes {
				if strings.HasPrefix(node.ID, prefix) || node.ID == signalID {
					b.setLiveWindow(node.ID, startTS, endTS, decisionMinDur)
				}
			}
		}
	}

	for _, action := range actions {
		startTS := actionStart(action.entry.TSMs)
		if startTS <= 0 || action.entry.Kind == "next_run" {
			continue
		}
		var endTS float64
		switch {
		case action.entry.DurationMs != nil && *action.entry.DurationMs > 0:
			endTS = startTS + *action.entry.DurationMs/1000
		case action.entry.Kind == "started" || action.entry.Kind == "run":
			if lastSeenTS > 0 && lastSeenTS >= startTS {
				endTS = minFloat(lastSeenTS, b.now)
			} else {
				endTS = minFloat(b.now, startTS+actionOpenDur)
			}
		case action.entry.Kind == "finished":
			endTS = startTS + actionDoneDur
		default:
			endTS = startTS + actionElseDur
		}
		if b.setLiveWindow(action.id, startTS, endTS, actionMinDur) {
			liveActions = append(liveActions, liveNode{id: action.id, ts: startTS})
		}
	}

	for _, action := range actions {
		startTS := actionStart(action.entry.TSMs)
		if startTS <= 0 || action.entry.Kind == "next_run" {
			continue
		}
		endTS := startTS + outcomeDur
		if action.entry.DurationMs != nil && *action.entry.DurationMs > 0 {
			endTS = startTS + *action.entry.DurationMs/1000
		}
		b.setLiveWindow("outcome:"+strconv.Itoa(action.absIdx), startTS, endTS, outcomeMinDur)
	}

	var triggerID string
	switch {
	case len(liveActions) > 0:
		triggerID = newest(liveActions).id
	case len(liveDecisions) > 0:
		triggerID = newest(liveDecisions).id
	case len(liveActivations) > 0:
		triggerID = newest(liveActivations).id
	default:
		if lastSeenTS > 0 && b.now-lastSeenTS <= maxLiveFromStart {
			if b.setLive(agentID, lastSeenTS, agentPulseDur) {
				triggerID = agentID
			}
		}
	}
	if node, ok := b.nodeByID[triggerID]; ok {
		node.Meta["trigger_source"] = true
	}

	liveIDs := make(map[string]struct{})
	for _, node := range b.nodes {
		if live, _ := node.Meta["live"].(bool); live {
			liveIDs[node.ID] = struct{}{}
		}
	}
	for _, edge := range b.edges {
		_, sourceLive := liveIDs[edge.Source]
		_, targetLive := liveIDs[edge.Target]
		sourceTrigger := false
		if node, ok := b.nodeByID[edge.Source]; ok {
			sourceTrigger, _ = node.Meta["trigger_source"].(bool)
		}
		edge.Meta["live"] = (sourceLive && targetLive) || (sourceTrigger && targetLive)
	}
}

func actionStart(tsMs float64) float64 {
	if tsMs <= 0 {
		return 0
	}
	return tsMs / 1000
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

type liveNode struct {
	id string
	ts float64
}

func newest(nodes []liveNode) liveNode {
	best := nodes[0]
	for _, n := range nodes[1:] {
		if n.ts > best.ts {
			best = n
		}
	}
	return best
}
