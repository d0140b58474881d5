package bus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/virgolamobile/observatory/internal/state"
)

// historyDedupeWindow mirrors the store's in-memory lookback when replaying
// persisted history at bootstrap.
const historyDedupeWindow = 40

// HistoryLog persists per-agent message/thought history entries as
// append-only JSONL side logs, one file per agent, so a restart can
// repopulate history without a global replay.
type HistoryLog struct {
	dir string
}

// NewHistoryLog creates the history directory if needed.
func NewHistoryLog(dir string) (*HistoryLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return &HistoryLog{dir: dir}, nil
}

func (h *HistoryLog) pathFor(agent string) string {
	return filepath.Join(h.dir, agent+".jsonl")
}

// Append persists newly added history entries for one agent.
func (h *HistoryLog) Append(agent string, entries []state.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	f, err := os.OpenFile(h.pathFor(agent), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open history log: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal history entry: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write history entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush history log: %w", err)
	}
	return nil
}

// Load replays one agent's side log into message and thought histories,
// skipping malformed lines and exact-text duplicates within the newest
// window. A missing file yields empty histories without error.
func (h *HistoryLog) Load(agent string) (messages, thoughts []state.HistoryEntry) {
	f, err := os.Open(h.pathFor(agent))
	if err != nil {
		return nil, nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry state.HistoryEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		switch entry.Type {
		case "message":
			if hasRecentText(messages, entry.Text) {
				continue
			}
			messages = append(messages, entry)
		case "thought":
			if hasRecentText(thoughts, entry.Text) {
				continue
			}
			thoughts = append(thoughts, entry)
		}
	}
	return messages, thoughts
}

func hasRecentText(history []state.HistoryEntry, text string) bool {
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
