package bus

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// InvalidArchive persists malformed bus lines verbatim for offline
// diagnosis. One dated file per archiving event.
type InvalidArchive struct {
	dir string
	now func() time.Time
}

// NewInvalidArchive creates an archive rooted at dir.
func NewInvalidArchive(dir string) *InvalidArchive {
	return &InvalidArchive{dir: dir, now: time.Now}
}

// Archive appends the raw line plus a newline to a unix-stamped log file.
// Returns the archive path for logging.
func (a *InvalidArchive) Archive(line string) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create invalid-line directory: %w", err)
	}
	path := filepath.Join(a.dir, fmt.Sprintf("invalid.%d.log", a.now().Unix()))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to open invalid-line archive: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return "", fmt.Errorf("failed to archive invalid line: %w", err)
	}
	return path, nil
}
