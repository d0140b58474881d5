// Package decision reconstructs why an agent acted: it discovers the
// workspace documents that constrain an agent (context roots) and infers a
// decision trace from timeline evidence, linking each decision back to the
// documents whose anchors it echoes.
package decision

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/virgolamobile/observatory/internal/coreplane"
	"github.com/virgolamobile/observatory/internal/event"
	"github.com/virgolamobile/observatory/internal/state"
)

// Discovery and anchor bounds.
const (
	headReadBytes      = 32000
	maxContextFiles    = 70
	maxWalkDepth       = 4
	maxMarkdownBytes   = 512000
	maxAnchors         = 36
	publishedAnchors   = 16
	maxMatchedAnchors  = 6
	sampleLines        = 24
	referenceTailItems = 5
)

// priorityBasenames are well-known constraint documents that outrank any
// other markdown in the workspace.
var priorityBasenames = map[string]struct{}{
	"soul.md":       {},
	"objectives.md": {},
	"operations.md": {},
	"agents.md":     {},
	"user.md":       {},
	"heartbeat.md":  {},
}

var ignoredDirs = map[string]struct{}{
	".git": {}, ".venv": {}, "venv": {}, "node_modules": {},
	"__pycache__": {}, ".idea": {}, ".vscode": {},
}

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9àèéìòù_-]{4,}`)
var numberedItem = regexp.MustCompile(`^\d+[.)]\s+`)

// Root is one discovered context document with its extracted anchors.
type Root struct {
	File           string   `json:"file"`
	Anchors        []string `json:"anchors"`
	MatchedAnchors []string `json:"matched_anchors"`
	Sample         string   `json:"sample"`
	// allAnchors keeps the full extraction for matching; only the
	// published prefix is serialized.
	allAnchors []string
}

// RegistryLookup supplies the current platform agent registry, used to map
// an agent to its workspace when core metadata doesn't carry it.
type RegistryLookup func() []coreplane.AgentRecord

// ContextLoader resolves an agent's workspace and loads its context roots.
type ContextLoader struct {
	lookup RegistryLookup
	home   string
}

// NewContextLoader builds a loader. A nil lookup disables registry
// resolution; home defaults to the process home directory.
func NewContextLoader(lookup RegistryLookup, home string) *ContextLoader {
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return &ContextLoader{lookup: lookup, home: home}
}

// Roots loads the context-root documents for one agent and computes anchor
// matches against the agent's current activity.
func (l *ContextLoader) Roots(snap state.Snapshot) []Root {
	workspace := l.resolveWorkspace(snap)
	if workspace == "" {
		return nil
	}

	reference := referenceText(snap)
	var roots []Root
	for _, path := range discoverMarkdown(workspace, maxContextFiles) {
		content := readHead(path, headReadBytes)
		if content == "" {
			continue
		}
		anchors := ExtractAnchors(content, maxAnchors)
		published := anchors
		if len(published) > publishedAnchors {
			published = published[:publishedAnchors]
		}
		roots = append(roots, Root{
			File:           path,
			Anchors:        published,
			MatchedAnchors: BestAnchorMatches(anchors, reference, maxMatchedAnchors),
			Sample:         headLines(content, sampleLines),
			allAnchors:     anchors,
		})
	}
	return roots
}

// resolveWorkspace finds an agent's workspace: core metadata first, then the
// platform registry, then conventional home-relative directories.
func (l *ContextLoader) resolveWorkspace(snap state.Snapshot) string {
	if ws, ok := snap.RawCore["workspace"].(string); ok && ws != "" {
		return ws
	}

	target := event.NormalizeAgentName(snap.Agent)
	if l.lookup != nil {
		for _, entry := range l.lookup() {
			id := event.NormalizeAgentName(entry.ID)
			name := event.NormalizeAgentName(entry.Name)
			if (target == id || target == name) && entry.Workspace != "" {
				return entry.Workspace
			}
		}
	}

	for _, candidate := range []string{
		filepath.Join(l.home, ".openclaw", "workspace-"+snap.Agent),
		filepath.Join(l.home, ".openclaw", "workspace-"+strings.ToLower(snap.Agent)),
	} {
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
	}
	return ""
}

// discoverMarkdown walks the workspace for candidate markdown files, ranked
// by basename priority and shallowness. No fixed filenames are assumed.
func discoverMarkdown(workspace string, maxFiles int) []string {
	info, err := os.Stat(workspace)
	if err != nil || !info.IsDir() {
		return nil
	}

	type candidate struct {
		priority int
		path     string
	}
	var candidates []candidate

	filepath.WalkDir(workspace, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(workspace, path)
		if relErr != nil {
			return nil
		}
		depth := 0
		if rel != "." {
			depth = strings.Count(rel, string(os.PathSeparator)) + 1
		}
		if d.IsDir() {
			if rel == "." {
				return nil
			}
			name := d.Name()
			if _, skip := ignoredDirs[name]; skip || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if depth > maxWalkDepth {
				return filepath.SkipDir
			}
			return nil
		}
		// A file one level below the deepest visited directory still counts.
		if depth > maxWalkDepth+1 {
			return nil
		}
		base := strings.ToLower(d.Name())
		if !strings.HasSuffix(base, ".md") {
			return nil
		}
		fi, err := d.Info()
		if err != nil || fi.Size() <= 0 || fi.Size() > maxMarkdownBytes {
			return nil
		}

		priority := 0
		if _, hit := priorityBasenames[base]; hit {
			priority += 100
		}
		if strings.Contains(base, "soul") {
			priority += 60
		}
		if strings.Contains(base, "operation") || strings.Contains(base, "objective") || strings.Contains(base, "agent") {
			priority += 30
		}
		if depth <= 1 {
			priority += 15
		}
		priority -= depth * 3
		candidates = append(candidates, candidate{priority: priority, path: path})
		return nil
	})

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		return candidates[i].path < candidates[j].path
	})
	if len(candidates) > maxFiles {
		candidates = candidates[:maxFiles]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.path
	}
	return out
}

// frontMatter is the optional YAML block at the top of a context document.
type frontMatter struct {
	Title string   `yaml:"title"`
	Tags  []string `yaml:"tags"`
}

// ExtractAnchors pulls potentially meaningful anchors from markdown-like
// text: YAML front-matter title and tags, headings, list items, numbered
// items, and imperative lines.
func ExtractAnchors(text string, maxItems int) []string {
	var anchors []string

	body := text
	if fm, rest, ok := splitFrontMatter(text); ok {
		var meta frontMatter
		if yaml.Unmarshal([]byte(fm), &meta) == nil {
			if title := strings.TrimSpace(meta.Title); title != "" {
				anchors = append(anchors, title)
			}
			for _, tag := range meta.Tags {
				if tag = strings.TrimSpace(tag); tag != "" {
					anchors = append(anchors, tag)
				}
			}
		}
		body = rest
	}

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "#"):
			anchors = append(anchors, strings.TrimSpace(strings.TrimLeft(line, "#")))
		case strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* "):
			anchors = append(anchors, strings.TrimSpace(line[2:]))
		case numberedItem.MatchString(line):
			anchors = append(anchors, strings.TrimSpace(numberedItem.ReplaceAllString(line, "")))
		case containsImperative(line):
			anchors = append(anchors, line)
		}
		if len(anchors) >= maxItems {
			break
		}
	}
	if len(anchors) > maxItems {
		anchors = anchors[:maxItems]
	}
	return anchors
}

func containsImperative(line string) bool {
	low := strings.ToLower(line)
	for _, keyword := range []string{"must", "always", "never", "objective", "mission", "priority"} {
		if strings.Contains(low, keyword) {
			return true
		}
	}
	return false
}

// splitFrontMatter separates a leading YAML front-matter block from the
// document body.
func splitFrontMatter(text string) (fm, body string, ok bool) {
	if !strings.HasPrefix(text, "---\n") && !strings.HasPrefix(text, "---\r\n") {
		return "", text, false
	}
	rest := text[strings.Index(text, "\n")+1:]
	for _, marker := range []string{"\n---\n", "\n---\r\n"} {
		if idx := strings.Index(rest, marker); idx >= 0 {
			return rest[:idx], rest[idx+len(marker):], true
		}
	}
	return "", text, false
}

// Tokenize extracts normalized word tokens of length >= 4 for heuristic
// lexical matching.
func Tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		tokens[tok] = struct{}{}
	}
	return tokens
}

// BestAnchorMatches returns the anchors with the strongest token overlap
// against the reference text, strongest first.
func BestAnchorMatches(anchors []string, reference string, maxItems int) []string {
	refTokens := Tokenize(reference)
	type scored struct {
		overlap int
		anchor  string
	}
	var hits []scored
	for _, anchor := range anchors {
		tokens := Tokenize(anchor)
		if len(tokens) == 0 {
			continue
		}
		overlap := 0
		for tok := range tokens {
			if _, ok := refTokens[tok]; ok {
				overlap++
			}
		}
		if overlap > 0 {
			hits = append(hits, scored{overlap: overlap, anchor: anchor})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].overlap > hits[j].overlap })
	if len(hits) > maxItems {
		hits = hits[:maxItems]
	}
	out := make([]string, len(hits))
	for i, hit := range hits {
		out[i] = hit.anchor
	}
	return out
}

func referenceText(snap state.Snapshot) string {
	parts := []string{snap.Task}
	parts = append(parts, tailOf(snap.RecentMessages, referenceTailItems)...)
	parts = append(parts, tailOf(snap.RecentThoughts, referenceTailItems)...)
	return strings.Join(parts, " ")
}

func tailOf(rows []string, n int) []string {
	if len(rows) > n {
		return rows[len(rows)-n:]
	}
	return rows
}

func readHead(path string, maxBytes int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	buf := make([]byte, maxBytes)
	n, _ := f.Read(buf)
	return string(buf[:n])
}

func headLines(text string, n int) string {
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
