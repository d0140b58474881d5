// Package docs serves the in-app help manifest: the markdown files of one
// directory, index first, read-only and whitelisted by exact name.
package docs

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Doc is one available markdown document.
type Doc struct {
	Name    string `json:"name"`
	IsIndex bool   `json:"is_index"`
	path    string
}

// ErrNotFound reports an unknown or empty document name.
var ErrNotFound = errors.New("doc not found")

// Library lists and reads the markdown docs of a single directory.
type Library struct {
	dir string
}

// NewLibrary points a docs library at dir. A missing directory is not an
// error; it just yields an empty manifest.
func NewLibrary(dir string) *Library {
	return &Library{dir: dir}
}

// Manifest returns the available docs, index.md first, then by name.
func (l *Library) Manifest() []Doc {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return []Doc{}
	}
	docs := []Doc{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(name), ".md") {
			continue
		}
		docs = append(docs, Doc{
			Name:    name,
			IsIndex: strings.EqualFold(name, "index.md"),
			path:    filepath.Join(l.dir, name),
		})
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].IsIndex != docs[j].IsIndex {
			return docs[i].IsIndex
		}
		return strings.ToLower(docs[i].Name) < strings.ToLower(docs[j].Name)
	})
	return docs
}

// Content reads one doc by exact manifest name. Names outside the manifest
// never reach the filesystem.
func (l *Library) Content(name string) (Doc, string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Doc{}, "", ErrNotFound
	}
	for _, doc := range l.Manifest() {
		if doc.Name != trimmed {
			continue
		}
		raw, err := os.ReadFile(doc.path)
		if err != nil {
			return doc, "", err
		}
		return doc, string(raw), nil
	}
	return Doc{}, "", ErrNotFound
}
