// Package bus implements the shared append-only event log: a writer used by
// emitters such as the session bridge, per-agent history side logs, an
// archive for malformed lines, and the tailer that follows the log and
// merges accepted events into the state store.
package bus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Writer appends events to the shared JSONL bus file. Safe for concurrent
// use from multiple goroutines; the tailer reads the same file through its
// own handle, so there is a single writer per file and no contention.
type Writer struct {
	path string
	mu   sync.Mutex
}

// NewWriter creates a bus writer for the given path, creating the parent
// directory if needed.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bus directory: %w", err)
	}
	return &Writer{path: path}, nil
}

// Append writes one event map as a single JSON line.
func (w *Writer) Append(payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal bus event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open bus file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append bus event: %w", err)
	}
	return nil
}

// Path returns the bus file path.
func (w *Writer) Path() string { return w.path }
