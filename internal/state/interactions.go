package state

import (
	"regexp"
	"strings"

	"github.com/virgolamobile/observatory/internal/event"
)

// Capacity bounds for the interaction buffers and their dedup index.
const (
	interactionBufferCap = 250
	seenKeyCap           = 4000
	messagesPerEvent     = 2
	interactionTextCap   = 420
)

// Interaction is one inferred exchange, either user→agent or agent→agent.
type Interaction struct {
	TS       string   `json:"ts"`
	Agent    string   `json:"agent,omitempty"`
	Actor    string   `json:"actor,omitempty"`
	Source   string   `json:"source,omitempty"`
	Target   string   `json:"target,omitempty"`
	Text     string   `json:"text"`
	Mentions []string `json:"mentions,omitempty"`
}

// rememberInteractionKey records a fingerprint in the bounded FIFO dedup
// index. Returns true when the key is new and the row should be accepted.
// Caller must hold the store lock.
func (s *Store) rememberInteractionKey(key string) bool {
	if key == "" {
		return false
	}
	if _, seen := s.seenKeys[key]; seen {
		return false
	}
	if len(s.seenOrder) >= seenKeyCap {
		oldest := s.seenOrder[0]
		s.seenOrder = s.seenOrder[1:]
		delete(s.seenKeys, oldest)
	}
	s.seenOrder = append(s.seenOrder, key)
	s.seenKeys[key] = struct{}{}
	return true
}

// detectAgentMentions scans text for word-bounded mentions of other known
// agents. Caller must hold the store lock.
func (s *Store) detectAgentMentions(text, sourceAgent string) []string {
	sourceNorm := event.NormalizeAgentName(sourceAgent)
	low := strings.ToLower(text)

	var mentioned []string
	seen := make(map[string]struct{})
	for _, snap := range s.agents {
		display := strings.TrimSpace(snap.Agent)
		norm := event.NormalizeAgentName(display)
		if norm == "" || norm == sourceNorm {
			continue
		}
		pattern := `(?:^|[^a-z0-9_])` + regexp.QuoteMeta(norm) + `(?:$|[^a-z0-9_])`
		matched, err := regexp.MatchString(pattern, low)
		if err != nil || !matched {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		mentioned = append(mentioned, display)
	}
	return mentioned
}

// pushInteractions infers interaction rows from the newest realtime messages
// of a merged snapshot and inserts them into the ring buffers, most recent
// first. Caller must hold the store lock.
func (s *Store) pushInteractions(snap Snapshot) {
	messages := snap.RecentMessages
	if len(messages) == 0 {
		return
	}
	start := len(messages) - messagesPerEvent
	if start < 0 {
		start = 0
	}
	agentNorm := event.NormalizeAgentName(snap.Agent)

	for _, message := range messages[start:] {
		actor, text := event.ParseMessageActor(message)
		clamped := clampRunes(text, interactionTextCap)
		mentions := s.detectAgentMentions(text, snap.Agent)

		ts := snap.LastSeen
		if ts == "" {
			ts = event.UTCNowISO()
		}

		switch {
		case actor == "user":
			key := "ua|" + agentNorm + "|" + actor + "|" + strings.ToLower(strings.TrimSpace(clamped))
			if s.rememberInteractionKey(key) {
				s.userAgent = prependBounded(s.userAgent, Interaction{
					TS:       ts,
					Agent:    snap.Agent,
					Actor:    actor,
					Text:     clamped,
					Mentions: mentions,
				})
			}
		case (actor == "assistant" || actor == "system") && len(mentions) > 0:
			for _, target := range mentions {
				key := "aa|" + agentNorm + "|" + event.NormalizeAgentName(target) + "|" +
					strings.ToLower(strings.TrimSpace(clamped))
				if s.rememberInteractionKey(key) {
					s.agentAgent = prependBounded(s.agentAgent, Interaction{
						TS:     ts,
						Source: snap.Agent,
						Target: target,
						Text:   clamped,
					})
				}
			}
		}
	}
}

func prependBounded(buf []Interaction, row Interaction) []Interaction {
	buf = append([]Interaction{row}, buf...)
	if len(buf) > interactionBufferCap {
		buf = buf[:interactionBufferCap]
	}
	return buf
}

func clampRunes(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
