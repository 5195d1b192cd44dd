// Package guidance loads operator-written markdown instruction files
// that are appended to the base system prompt. Files may carry YAML
// frontmatter with a platform restriction so a document only applies
// to sessions from that platform.
package guidance

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Document is one parsed guidance file.
type Document struct {
	Name      string   // filename without .md extension
	Platforms []string // frontmatter restriction; nil = all platforms
	Content   string   // markdown content with frontmatter stripped
}

// Loader reads guidance files from a directory.
type Loader struct {
	dir string
}

// NewLoader creates a loader for dir. An empty dir loads nothing.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// LoadAll reads every .md file in the directory, sorted by name for
// deterministic prompt assembly. A missing directory is not an error.
func (l *Loader) LoadAll() ([]Document, error) {
	if l.dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read guidance dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var docs []Document
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(l.dir, f))
		if err != nil {
			return nil, fmt.Errorf("read guidance %s: %w", f, err)
		}
		platforms, content := parseFrontmatter(string(data))
		docs = append(docs, Document{
			Name:      strings.TrimSuffix(f, ".md"),
			Platforms: platforms,
			Content:   content,
		})
	}
	return docs, nil
}

// ForPlatform returns the combined content of documents applying to
// the given platform, joined by horizontal rules. Unrestricted
// documents always apply.
func ForPlatform(docs []Document, platform string) string {
	var parts []string
	for _, d := range docs {
		if appliesTo(d, platform) {
			parts = append(parts, strings.TrimSpace(d.Content))
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func appliesTo(d Document, platform string) bool {
	if len(d.Platforms) == 0 {
		return true
	}
	for _, p := range d.Platforms {
		if strings.EqualFold(p, platform) {
			return true
		}
	}
	return false
}

// parseFrontmatter extracts a "platforms:" list from a leading YAML
// frontmatter block. The block is delimited by "---" lines; anything
// unrecognized inside it is ignored.
func parseFrontmatter(raw string) ([]string, string) {
	lines := strings.Split(raw, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return nil, raw
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return nil, raw
	}

	var platforms []string
	for _, line := range lines[1:end] {
		trimmed := strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(trimmed, "platforms:"); ok {
			for _, p := range strings.Split(after, ",") {
				if p = strings.TrimSpace(strings.Trim(strings.TrimSpace(p), "[]")); p != "" {
					platforms = append(platforms, p)
				}
			}
		}
	}
	return platforms, strings.Join(lines[end+1:], "\n")
}
