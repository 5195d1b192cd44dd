package guidance

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadAllSortedAndParsed(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "b-style.md", "Use short sentences.")
	writeDoc(t, dir, "a-linear.md", "---\nplatforms: [linear]\n---\nAlways link the issue.")
	writeDoc(t, dir, "notes.txt", "ignored")

	docs, err := NewLoader(dir).LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	if docs[0].Name != "a-linear" || docs[1].Name != "b-style" {
		t.Errorf("order = %s, %s; want a-linear, b-style", docs[0].Name, docs[1].Name)
	}
	if len(docs[0].Platforms) != 1 || docs[0].Platforms[0] != "linear" {
		t.Errorf("platforms = %v, want [linear]", docs[0].Platforms)
	}
	if strings.Contains(docs[0].Content, "---") {
		t.Errorf("frontmatter not stripped: %q", docs[0].Content)
	}
}

func TestLoadAllMissingDir(t *testing.T) {
	docs, err := NewLoader(filepath.Join(t.TempDir(), "absent")).LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error = %v, want nil for missing dir", err)
	}
	if docs != nil {
		t.Errorf("docs = %v, want nil", docs)
	}
}

func TestForPlatform(t *testing.T) {
	docs := []Document{
		{Name: "general", Content: "Be concise."},
		{Name: "linear-only", Platforms: []string{"linear"}, Content: "Link the issue."},
		{Name: "slack-only", Platforms: []string{"slack"}, Content: "Use thread replies."},
	}

	got := ForPlatform(docs, "linear")
	if !strings.Contains(got, "Be concise.") || !strings.Contains(got, "Link the issue.") {
		t.Errorf("linear guidance %q missing expected documents", got)
	}
	if strings.Contains(got, "thread replies") {
		t.Errorf("linear guidance %q includes slack-only document", got)
	}

	if got := ForPlatform(docs, "github"); got != "Be concise." {
		t.Errorf("github guidance = %q, want only the unrestricted document", got)
	}
}
