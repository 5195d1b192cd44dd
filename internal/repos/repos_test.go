package repos

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "repos.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Upsert(ctx, Definition{
		Name:        "otron",
		Description: "the agent itself",
		Purpose:     "dogfooding",
		GitHubURL:   "https://github.com/otron-io/otron",
		Owner:       "otron-io",
		Repo:        "otron",
		IsActive:    true,
		Tags:        []string{"go", "agent"},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	err = s.Upsert(ctx, Definition{
		Name:     "legacy-api",
		Owner:    "otron-io",
		Repo:     "legacy-api",
		IsActive: false,
	})
	if err != nil {
		t.Fatalf("Upsert inactive: %v", err)
	}

	active, err := s.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(active) != 1 || active[0].Name != "otron" {
		t.Fatalf("Active = %+v, want just otron", active)
	}
	if active[0].ID == "" || active[0].CreatedAt.IsZero() {
		t.Errorf("ID/CreatedAt not filled in: %+v", active[0])
	}
}

func TestUpsertReplacesByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := Definition{Name: "otron", Owner: "otron-io", Repo: "otron", IsActive: true}
	if err := s.Upsert(ctx, base); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	base.Description = "updated description"
	if err := s.Upsert(ctx, base); err != nil {
		t.Fatalf("Upsert again: %v", err)
	}

	def, err := s.ByName(ctx, "otron")
	if err != nil {
		t.Fatalf("ByName: %v", err)
	}
	if def == nil || def.Description != "updated description" {
		t.Fatalf("ByName = %+v", def)
	}

	active, err := s.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("upsert duplicated the row: %d entries", len(active))
	}
}

func TestSetActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, Definition{Name: "otron", Owner: "o", Repo: "r", IsActive: true}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.SetActive(ctx, "otron", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	active, err := s.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("deactivated repo still listed: %+v", active)
	}

	if err := s.SetActive(ctx, "ghost", true); err == nil {
		t.Fatalf("SetActive on unknown repo succeeded")
	}
}

func TestContextBlock(t *testing.T) {
	if got := ContextBlock(nil); got != "" {
		t.Fatalf("ContextBlock(nil) = %q", got)
	}

	block := ContextBlock([]Definition{{
		Name:               "otron",
		Owner:              "otron-io",
		Repo:               "otron",
		Description:        "multi-platform agent",
		Purpose:            "automation",
		ContextDescription: "main branch is protected",
		Tags:               []string{"go"},
	}})
	for _, want := range []string{"otron-io/otron", "multi-platform agent", "main branch is protected", "Tags: go"} {
		if !strings.Contains(block, want) {
			t.Errorf("block missing %q:\n%s", want, block)
		}
	}
}
