package decision

import (
	"strings"

	"github.com/virgolamobile/observatory/internal/event"
	"github.com/virgolamobile/observatory/internal/timeline"
)

// Trace bounds.
const (
	traceScanLimit     = 220
	lookbackEntries    = 9
	maxDecisions       = 25
	decisionTextLimit  = 320
	evidenceTextLimit  = 260
	rootCauseAnchorMax = 3
)

// Inferred reasons.
const (
	ReasonUserRequest = "Recent user request"
	ReasonCron        = "Triggered by cron execution"
	ReasonReasoning   = "Recent reasoning chain"
	ReasonContinuous  = "Continuous operational context"
	ReasonConstraints = "Constraints/goals derived from workspace documents (SOUL/OPERATIONS/...)"
)

// RootCause links a decision to a context document whose anchors it echoes.
type RootCause struct {
	File    string   `json:"file"`
	Anchors []string `json:"anchors"`
}

// Decision is one inferred decision with its supporting evidence.
type Decision struct {
	TS         string      `json:"ts"`
	Agent      string      `json:"agent"`
	Decision   string      `json:"decision"`
	Why        []string    `json:"why"`
	Evidence   []string    `json:"evidence"`
	Confidence string      `json:"confidence"`
	Source     string      `json:"source"`
	Type       string      `json:"type"`
	RootCauses []RootCause `json:"root_causes"`
}

// InferTrace walks a newest-first timeline and reconstructs the agent's
// decision records. For each candidate entry the immediately older entries
// supply the cause: a user request, a cron execution, or a reasoning chain,
// in that precedence. Anchor overlap with context roots adds a
// document-constraints reason and a root-cause link. Confidence is high only
// when concrete older evidence exists.
func InferTrace(agentName string, rows []timeline.Entry, roots []Root) []Decision {
	working := rows
	if len(working) > traceScanLimit {
		working = working[:traceScanLimit]
	}

	var decisions []Decision
	for idx, row := range working {
		text := strings.TrimSpace(row.Text)
		if text == "" || !isDecisionCandidate(row.Type) {
			continue
		}

		var reasons, evidence []string
		for _, prev := range lookback(working, idx) {
			prevType := strings.ToLower(prev.Type)
			prevText := strings.TrimSpace(prev.Text)
			if prevText == "" {
				continue
			}
			switch {
			case strings.Contains(prevType, "recent_user") || strings.Contains(prevType, "user_interaction"):
				reasons = append(reasons, ReasonUserRequest)
			case strings.Contains(prevType, "cron_"):
				reasons = append(reasons, ReasonCron)
			case strings.Contains(prevType, "thought"):
				reasons = append(reasons, ReasonReasoning)
			default:
				continue
			}
			evidence = append(evidence, clipChars(prevText, evidenceTextLimit))
			break
		}
		if len(reasons) == 0 {
			reasons = append(reasons, ReasonContinuous)
		}

		var rootCauses []RootCause
		for _, root := range roots {
			matches := BestAnchorMatches(root.matchAnchors(), text, rootCauseAnchorMax)
			if len(matches) > 0 {
				rootCauses = append(rootCauses, RootCause{File: root.File, Anchors: matches})
			}
		}
		if len(rootCauses) > 0 {
			reasons = append(reasons, ReasonConstraints)
		}

		confidence := "medium"
		if len(evidence) > 0 {
			confidence = "high"
		}
		decisions = append(decisions, Decision{
			TS:         row.TS,
			Agent:      event.DisplayAgentName(agentName),
			Decision:   clipChars(text, decisionTextLimit),
			Why:        reasons,
			Evidence:   evidence,
			Confidence: confidence,
			Source:     row.Source,
			Type:       row.Type,
			RootCauses: rootCauses,
		})
		if len(decisions) >= maxDecisions {
			break
		}
	}
	return decisions
}

// isDecisionCandidate reports whether a timeline entry type can carry a
// decision: assistant output, session messages, interactions, or a
// completed cron execution.
func isDecisionCandidate(entryType string) bool {
	t := strings.ToLower(entryType)
	switch {
	case strings.HasPrefix(t, "recent_assistant"):
		return true
	case t == "message":
		return true
	case t == "user_interaction" || t == "assistant_interaction":
		return true
	case strings.Contains(t, "cron_finished_ok"):
		return true
	case strings.Contains(t, "cron_last_run"):
		return true
	}
	return false
}

// lookback returns up to lookbackEntries rows older than idx.
func lookback(rows []timeline.Entry, idx int) []timeline.Entry {
	start := idx + 1
	end := start + lookbackEntries
	if start > len(rows) {
		return nil
	}
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}

// matchAnchors exposes the full anchor set for matching, falling back to the
// published anchors when a Root was built externally (e.g. in tests).
func (r Root) matchAnchors() []string {
	if len(r.allAnchors) > 0 {
		return r.allAnchors
	}
	return r.Anchors
}

func clipChars(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
