package state

import (
	"reflect"
	"strings"
	"sync"

	"github.com/virgolamobile/observatory/internal/event"
)

// History bounds: total cap per agent and the dedup lookback window.
const (
	historyCap          = 200
	historyDedupeWindow = 40
)

// Run modes. In core-only-passive mode the control plane is authoritative
// and runtime fields are replaced instead of merged.
const (
	ModeLegacy   = "legacy"
	ModeCoreOnly = "core-only-passive"
	ModeAuto     = "auto"
)

// Store is the single source of truth for agent snapshots, interaction
// buffers, and the cron digest. One mutex guards everything; the lock is
// held only for merges and snapshot copies, never across I/O.
type Store struct {
	mu   sync.Mutex
	mode string

	agents      map[string]Snapshot
	userAgent   []Interaction
	agentAgent  []Interaction
	seenOrder   []string
	seenKeys    map[string]struct{}
	cronDetails map[string][]CronJob
	cronSummary CronSummary
	ready       bool
}

// New creates an empty store operating in the given mode.
func New(mode string) *Store {
	return &Store{
		mode:        mode,
		agents:      make(map[string]Snapshot),
		seenKeys:    make(map[string]struct{}),
		cronDetails: make(map[string][]CronJob),
	}
}

// Mode returns the configured run mode.
func (s *Store) Mode() string { return s.mode }

// Ready reports whether initial population has completed.
func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// SetReady flips the readiness flag. It never flips back.
func (s *Store) SetReady() {
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
}

// Count returns the number of tracked agents.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.agents)
}

// BootstrapSnapshots installs the initial snapshot set built from a full
// bus replay. Later events for the same agent have already won upstream.
func (s *Store) BootstrapSnapshots(snaps []Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snaps {
		if snap.Agent == "" || snap.Agent == "unknown" {
			continue
		}
		s.agents[snap.Agent] = snap
	}
}

// MergeResult describes the outcome of one bus-event merge.
type MergeResult struct {
	Snapshot Snapshot
	// Appended holds the history entries newly added by this merge, in
	// order, so the caller can persist them to the per-agent side log.
	Appended []HistoryEntry
}

// MergeEvent merges one normalized bus event into the agent's snapshot
// under the store lock. Fields present in the event overwrite; absent
// fields preserve the previous value. Message and thought histories grow by
// append, capped at 200, skipping exact-text duplicates within the most
// recent 40 entries.
func (s *Store) MergeEvent(ev event.Event) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.agents[ev.Agent]
	merged := prev.Clone()
	var appended []HistoryEntry

	mh := merged.MessageHistory
	th := merged.ThoughtHistory
	for _, m := range ev.RecentMessages {
		entry := HistoryEntry{Type: "message", TS: ev.LastSeen, Text: m}
		if historyHasText(mh, m) {
			continue
		}
		mh = append(mh, entry)
		appended = append(appended, entry)
	}
	for _, t := range ev.RecentThoughts {
		entry := HistoryEntry{Type: "thought", TS: ev.LastSeen, Text: t}
		if historyHasText(th, t) {
			continue
		}
		th = append(th, entry)
		appended = append(appended, entry)
	}
	if len(mh) > historyCap {
		mh = mh[len(mh)-historyCap:]
	}
	if len(th) > historyCap {
		th = th[len(th)-historyCap:]
	}

	merged.Agent = ev.Agent
	merged.Status = ev.Status
	merged.Task = ev.Task
	merged.LastSeen = ev.LastSeen
	if ev.CronJobs != nil {
		merged.CronJobs = *ev.CronJobs
	}
	if ev.ActiveMissions != nil {
		merged.ActiveMissions = ev.ActiveMissions
	} else if merged.ActiveMissions == nil {
		merged.ActiveMissions = []string{}
	}
	if ev.CPU != nil {
		merged.CPU = *ev.CPU
	}
	if ev.Mem != nil {
		merged.Mem = *ev.Mem
	}
	if ev.RecentMessages != nil {
		merged.RecentMessages = ev.RecentMessages
	} else if merged.RecentMessages == nil {
		merged.RecentMessages = []string{}
	}
	if ev.RecentThoughts != nil {
		merged.RecentThoughts = ev.RecentThoughts
	} else if merged.RecentThoughts == nil {
		merged.RecentThoughts = []string{}
	}
	if ev.CurrentThought != nil {
		merged.CurrentThought = *ev.CurrentThought
	}
	merged.RealTime = ev.RealTime
	merged.Raw = ev.Raw
	merged.MessageHistory = mh
	merged.ThoughtHistory = th

	if existed && prev.Task != "" && prev.Task != merged.Task {
		merged.InterruptedTask = prev.Task
	}
	if merged.CronDetails == nil {
		merged.CronDetails = []CronJob{}
	}

	s.agents[ev.Agent] = merged
	s.pushInteractions(merged)

	return MergeResult{Snapshot: merged.Clone(), Appended: appended}
}

// historyHasText reports whether an exact trimmed-text duplicate exists in
// the newest window of the history. Empty text is never treated as a dupe.
func historyHasText(history []HistoryEntry, text string) bool {
	needle := strings.TrimSpace(text)
	if needle == "" {
		return false
	}
	start := len(history) - historyDedupeWindow
	if start < 0 {
		start = 0
	}
	for _, entry := range history[start:] {
		if strings.TrimSpace(entry.Text) == needle {
			return true
		}
	}
	return false
}

// ApplyCoreStates merges snapshots synthesized by the passive poller.
// Returns the snapshots whose value actually changed and whether this was
// the first population of an empty store (which requires a full init push
// instead of per-agent deltas). Marks the store ready when any state landed.
func (s *Store) ApplyCoreStates(states []Snapshot) (changed []Snapshot, initNeeded bool) {
	if len(states) == 0 {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	initNeeded = len(s.agents) == 0

	for _, current := range states {
		if current.Agent == "" {
			continue
		}
		prev, existed := s.agents[current.Agent]
		merged := prev.Clone()

		merged.Agent = current.Agent
		merged.CronJobs = current.CronJobs
		merged.ActiveMissions = current.ActiveMissions
		merged.LastSeen = current.LastSeen
		merged.RealTime = true
		merged.RawCore = current.Raw
		merged.CronDetails = current.CronDetails
		merged.InterruptedTasks = current.InterruptedTasks

		if s.mode == ModeCoreOnly {
			// Control plane is authoritative: replace runtime fields.
			merged.Status = current.Status
			merged.Task = current.Task
			merged.RecentMessages = current.RecentMessages
			merged.RecentThoughts = []string{}
			merged.CurrentThought = ""
			merged.Raw = current.Raw
		} else {
			if merged.Status == "" || merged.Status == "unknown" {
				merged.Status = current.Status
			}
			if merged.Task == "" {
				merged.Task = current.Task
			}
			if len(merged.RecentMessages) == 0 && len(current.RecentMessages) > 0 {
				merged.RecentMessages = current.RecentMessages
			}
		}

		if !existed || !reflect.DeepEqual(merged, prev) {
			s.agents[current.Agent] = merged
			changed = append(changed, merged.Clone())
			s.pushInteractions(merged)
		}
	}

	if !s.ready {
		s.ready = true
	}
	return changed, initNeeded
}

// Get retrieves a snapshot copy by normalized agent identity.
func (s *Store) Get(name string) (Snapshot, bool) {
	target := event.NormalizeAgentName(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range s.agents {
		if event.NormalizeAgentName(snap.Agent) == target {
			return snap.Clone(), true
		}
	}
	return Snapshot{}, false
}

// List returns copies of every tracked snapshot.
func (s *Store) List() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, 0, len(s.agents))
	for _, snap := range s.agents {
		out = append(out, snap.Clone())
	}
	return out
}

// ListFiltered returns snapshots suitable for init payloads: unknown
// placeholders and system rows are excluded.
func (s *Store) ListFiltered() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, 0, len(s.agents))
	for _, snap := range s.agents {
		if snap.Agent == "unknown" || snap.IsSystem() {
			continue
		}
		out = append(out, snap.Clone())
	}
	return out
}

// Interactions returns copies of both ring buffers, newest first.
func (s *Store) Interactions() (userAgent, agentAgent []Interaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Interaction(nil), s.userAgent...), append([]Interaction(nil), s.agentAgent...)
}

// UserInteractionsFor returns user→agent rows for one normalized identity.
func (s *Store) UserInteractionsFor(name string) []Interaction {
	target := event.NormalizeAgentName(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Interaction
	for _, row := range s.userAgent {
		if event.NormalizeAgentName(row.Agent) == target {
			out = append(out, row)
		}
	}
	return out
}

// SetCron replaces the cron detail index and summary wholesale.
func (s *Store) SetCron(details map[string][]CronJob, summary CronSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cronDetails = details
	s.cronSummary = summary
}

// Cron returns copies of the cron detail index and summary.
func (s *Store) Cron() (map[string][]CronJob, CronSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	details := make(map[string][]CronJob, len(s.cronDetails))
	for agent, jobs := range s.cronDetails {
		details[agent] = cloneCronJobs(jobs)
	}
	return details, s.cronSummary
}

// CronDetailsFor returns the cron rows for one display agent name.
func (s *Store) CronDetailsFor(displayAgent string) []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneCronJobs(s.cronDetails[displayAgent])
}
