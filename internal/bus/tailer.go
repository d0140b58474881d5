package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/virgolamobile/observatory/internal/event"
	"github.com/virgolamobile/observatory/internal/metrics"
	"github.com/virgolamobile/observatory/internal/state"
)

// DefaultFollowInterval is how often the follow phase polls for new lines.
const DefaultFollowInterval = 500 * time.Millisecond

// Tailer follows the shared bus file. It runs two phases per process: a
// Bootstrap pass over the whole log that builds the initial snapshot set
// and flips the store's readiness flag, then a Follow loop that seeks to
// the end and merges newly appended lines as they land.
type Tailer struct {
	path     string
	store    *state.Store
	history  *HistoryLog
	archive  *InvalidArchive
	notifier state.Notifier
	metrics  *metrics.Set
	log      *zap.Logger
	interval time.Duration
}

// NewTailer wires a tailer. The notifier may be a NopNotifier; metrics may
// be a throwaway Set in tests.
func NewTailer(path string, store *state.Store, history *HistoryLog, archive *InvalidArchive, notifier state.Notifier, m *metrics.Set, log *zap.Logger) *Tailer {
	return &Tailer{
		path:     path,
		store:    store,
		history:  history,
		archive:  archive,
		notifier: notifier,
		metrics:  m,
		log:      log.Named("bus"),
		interval: DefaultFollowInterval,
	}
}

// Run executes Bootstrap then Follow until the context is cancelled.
// Follow treats "no new line" as a wait condition, never an error.
func (t *Tailer) Run(ctx context.Context) error {
	if err := t.Bootstrap(); err != nil {
		return fmt.Errorf("bus bootstrap failed: %w", err)
	}
	return t.follow(ctx)
}

// Bootstrap reads the entire log from offset zero once, seeds the store
// with the last observed event per agent plus the persisted history side
// logs, marks the store ready, and pushes the filtered snapshot set.
func (t *Tailer) Bootstrap() error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("failed to create bus directory: %w", err)
	}
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open bus file: %w", err)
	}
	defer f.Close()

	t.log.Info("starting bootstrap scan", zap.String("path", t.path))

	// Replay order matters: the last event per agent wins.
	latest := make(map[string]event.Event)
	var order []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ev, ok := t.decodeLine(line)
		if !ok {
			continue
		}
		if ev.Agent == "unknown" {
			continue
		}
		if _, seen := latest[ev.Agent]; !seen {
			order = append(order, ev.Agent)
		}
		latest[ev.Agent] = ev
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan bus file: %w", err)
	}

	snaps := make([]state.Snapshot, 0, len(order))
	for _, agent := range order {
		snap := state.FromEvent(latest[agent])
		snap.MessageHistory, snap.ThoughtHistory = t.history.Load(agent)
		snaps = append(snaps, snap)
	}
	t.store.BootstrapSnapshots(snaps)
	t.store.SetReady()

	data := t.store.ListFiltered()
	t.log.Info("bootstrap complete, emitting initial state", zap.Int("agents", len(data)))
	t.notifier.Init(data)
	t.metrics.TrackedAgents.Set(float64(t.store.Count()))
	return nil
}

// follow seeks to the current end of file and polls for appended lines.
func (t *Tailer) follow(ctx context.Context) error {
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("failed to reopen bus file: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek bus file: %w", err)
	}

	t.log.Info("following bus file", zap.String("path", t.path))
	reader := bufio.NewReader(f)
	var partial strings.Builder

	for {
		chunk, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				t.log.Warn("bus read error", zap.Error(err))
			}
			partial.WriteString(chunk)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(t.interval):
			}
			continue
		}

		line := strings.TrimSpace(partial.String() + chunk)
		partial.Reset()
		if line == "" {
			continue
		}
		t.handleLine(line)
	}
}

// handleLine decodes, normalizes, and merges one appended bus line, then
// persists new history entries and pushes the update.
func (t *Tailer) handleLine(line string) {
	ev, ok := t.decodeLine(line)
	if !ok {
		return
	}

	res := t.store.MergeEvent(ev)
	if err := t.history.Append(ev.Agent, res.Appended); err != nil {
		t.log.Warn("failed to persist history entries",
			zap.String("agent", ev.Agent), zap.Error(err))
	}
	t.metrics.EventsIngested.Inc()
	t.metrics.TrackedAgents.Set(float64(t.store.Count()))
	t.notifier.Update(res.Snapshot)
}

// decodeLine parses one raw line defensively. Malformed JSON is archived
// and skipped; system/announcement rows and identity-free rows are skipped
// silently.
func (t *Tailer) decodeLine(line string) (event.Event, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		t.metrics.InvalidLines.Inc()
		path, archiveErr := t.archive.Archive(line)
		if archiveErr != nil {
			t.log.Warn("failed to archive invalid line", zap.Error(archiveErr))
		} else {
			t.log.Warn("archived invalid bus line", zap.String("archive", path))
		}
		return event.Event{}, false
	}
	if event.ShouldSkip(raw) {
		return event.Event{}, false
	}
	return event.Normalize(raw), true
}
