// Package bridge mirrors agent session transcripts onto the shared bus.
// Each agent directory under the configured root may hold a sessions/
// directory of JSONL transcripts; the bridge follows the newest file per
// agent, converts user and assistant turns into bus events, and dedupes
// across rotations so the tailer sees each turn exactly once.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/virgolamobile/observatory/internal/bus"
	"github.com/virgolamobile/observatory/internal/event"
	"github.com/virgolamobile/observatory/internal/metrics"
)

const (
	// DefaultInterval is the sweep period across all agent transcripts.
	DefaultInterval = time.Second

	// rotationReplay is how many tail records are replayed when a new
	// transcript file appears for an agent. The dedupe index keeps a
	// mid-rotation restart from double-publishing them.
	rotationReplay = 4

	seenHighWater = 5000
	seenLowWater  = 1000
)

type fileOffset struct {
	path   string
	offset int64
}

// Bridge follows the newest session transcript per agent and republishes
// turns onto the bus. All state (offsets, dedupe index) is in-process; a
// restart replays tails and relies on record identity for dedupe.
type Bridge struct {
	root     string
	writer   *bus.Writer
	metrics  *metrics.Set
	log      *zap.Logger
	interval time.Duration

	offsets   map[string]fileOffset
	seen      map[string]struct{}
	seenOrder []string
}

// New wires a session bridge over the given agents root directory.
func New(root string, writer *bus.Writer, m *metrics.Set, log *zap.Logger) *Bridge {
	return &Bridge{
		root:     root,
		writer:   writer,
		metrics:  m,
		log:      log.Named("bridge"),
		interval: DefaultInterval,
		offsets:  make(map[string]fileOffset),
		seen:     make(map[string]struct{}),
	}
}

// Run sweeps transcripts until the context is cancelled. Cycle errors are
// logged and never fatal; the next sweep starts fresh.
func (b *Bridge) Run(ctx context.Context) error {
	b.log.Info("session bridge started", zap.String("root", b.root))
	for {
		b.cycle()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.interval):
		}
	}
}

// cycle performs one sweep across every agent's newest transcript.
func (b *Bridge) cycle() {
	files := b.sessionFiles()
	for _, agent := range sortedAgents(files) {
		if err := b.followFile(agent, files[agent]); err != nil {
			b.log.Warn("transcript sweep failed",
				zap.String("agent", agent), zap.Error(err))
		}
	}
	if len(b.seenOrder) > seenHighWater {
		b.trimSeen()
	}
}

// sessionFiles finds the newest .jsonl transcript per agent directory.
// The display name is the directory name with its first letter upper-cased.
func (b *Bridge) sessionFiles() map[string]string {
	files := make(map[string]string)
	dirs, err := os.ReadDir(b.root)
	if err != nil {
		return files
	}
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		sessionsDir := filepath.Join(b.root, dir.Name(), "sessions")
		entries, err := os.ReadDir(sessionsDir)
		if err != nil {
			continue
		}
		var latest string
		var latestMod time.Time
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if latest == "" || info.ModTime().After(latestMod) {
				latest = filepath.Join(sessionsDir, entry.Name())
				latestMod = info.ModTime()
			}
		}
		if latest != "" {
			files[event.DisplayAgentName(dir.Name())] = latest
		}
	}
	return files
}

// followFile publishes new records from one transcript. A path change or
// shrink counts as rotation: the tail is replayed and the offset resets.
func (b *Bridge) followFile(agent, path string) error {
	prev, tracked := b.offsets[agent]
	if !tracked || prev.path != path {
		for _, entry := range tailRecords(path, rotationReplay) {
			b.publish(agent, entry)
		}
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		b.offsets[agent] = fileOffset{path: path, offset: info.Size()}
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	offset := prev.offset
	if info.Size() < offset {
		offset = 0
	}
	if info.Size() <= offset {
		b.offsets[agent] = fileOffset{path: path, offset: offset}
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Seek(offset, 0); err != nil {
		return err
	}

	read, entries := decodeLines(f)
	for _, entry := range entries {
		b.publish(agent, entry)
	}
	b.offsets[agent] = fileOffset{path: path, offset: offset + read}
	return nil
}

// publish converts and appends one record, dedupe-checked by identity.
func (b *Bridge) publish(agent string, entry map[string]any) {
	key := DedupeKey(entry)
	if key != "" {
		if _, dup := b.seen[key]; dup {
			return
		}
	}
	if payload, ok := ExtractSessionEvent(agent, entry); ok {
		if err := b.writer.Append(payload); err != nil {
			b.log.Warn("failed to append bridged event", zap.Error(err))
		} else {
			b.metrics.BridgeRecords.Inc()
		}
	}
	if key != "" {
		b.seen[key] = struct{}{}
		b.seenOrder = append(b.seenOrder, key)
	}
}

func (b *Bridge) trimSeen() {
	keep := b.seenOrder[len(b.seenOrder)-seenLowWater:]
	seen := make(map[string]struct{}, len(keep))
	for _, key := range keep {
		seen[key] = struct{}{}
	}
	b.seen = seen
	b.seenOrder = append([]string(nil), keep...)
}

// tailRecords decodes the last n JSON records of a transcript, skipping
// blank and malformed lines.
func tailRecords(path string, n int) []map[string]any {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	lines := strings.Split(string(data), "\n")
	var kept []string
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	var out []map[string]any
	for _, line := range kept {
		var entry map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// decodeLines reads whole lines from the current position, returning the
// byte count consumed (complete lines only) and the decoded records. A
// trailing partial line is left for the next sweep.
func decodeLines(f *os.File) (int64, []map[string]any) {
	data, err := io.ReadAll(f)
	if err != nil {
		return 0, nil
	}
	var consumed int64
	var out []map[string]any
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSpace(string(data[:idx]))
		consumed += int64(idx + 1)
		data = data[idx+1:]
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return consumed, out
}

// sortedAgents keeps sweep order stable for deterministic logs and tests.
func sortedAgents(files map[string]string) []string {
	out := make([]string, 0, len(files))
	for agent := range files {
		out = append(out, agent)
	}
	sort.Strings(out)
	return out
}
