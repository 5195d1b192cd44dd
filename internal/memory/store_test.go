package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreInteractionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.StoreInteraction(ctx, Interaction{
		SessionID:     "sess-1",
		ContextID:     "OTR-42",
		Platform:      "linear",
		UserMessage:   "Please fix the login bug",
		AgentResponse: "Opened PR #17 with the fix",
		ToolsUsed:     []string{"search_code", "create_pull_request"},
		Actions:       []string{"created PR #17"},
	})
	if err != nil {
		t.Fatalf("StoreInteraction: %v", err)
	}

	recs, err := s.RecentInteractions(ctx, "OTR-42", 10)
	if err != nil {
		t.Fatalf("RecentInteractions: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d interactions, want 1", len(recs))
	}
	rec := recs[0]
	if rec.ID == "" {
		t.Errorf("ID was not generated")
	}
	if rec.AgentResponse != "Opened PR #17 with the fix" {
		t.Errorf("AgentResponse = %q", rec.AgentResponse)
	}
	if len(rec.ToolsUsed) != 2 || rec.ToolsUsed[1] != "create_pull_request" {
		t.Errorf("ToolsUsed = %v", rec.ToolsUsed)
	}
}

func TestStoreInteractionTruncates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.StoreInteraction(ctx, Interaction{
		SessionID:     "sess-1",
		ContextID:     "OTR-1",
		Platform:      "slack",
		UserMessage:   strings.Repeat("x", maxFieldLen+100),
		AgentResponse: "ok",
	})
	if err != nil {
		t.Fatalf("StoreInteraction: %v", err)
	}

	recs, err := s.RecentInteractions(ctx, "OTR-1", 1)
	if err != nil {
		t.Fatalf("RecentInteractions: %v", err)
	}
	if !strings.HasSuffix(recs[0].UserMessage, "[truncated]") {
		t.Errorf("long user message was not truncated")
	}
}

func TestTrackToolUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.TrackToolUsage(ctx, "search_code", true); err != nil {
			t.Fatalf("TrackToolUsage: %v", err)
		}
	}
	if err := s.TrackToolUsage(ctx, "search_code", false); err != nil {
		t.Fatalf("TrackToolUsage: %v", err)
	}
	if err := s.TrackToolUsage(ctx, "read_file", true); err != nil {
		t.Fatalf("TrackToolUsage: %v", err)
	}

	stats, err := s.ToolStats(ctx)
	if err != nil {
		t.Fatalf("ToolStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d tools, want 2", len(stats))
	}
	if stats[0].Tool != "search_code" {
		t.Errorf("most used = %s, want search_code", stats[0].Tool)
	}
	if stats[0].Uses != 4 || stats[0].Successes != 3 || stats[0].Failures != 1 {
		t.Errorf("search_code counters = %+v", stats[0])
	}
}

func TestContextBlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	block, err := s.ContextBlock(ctx, "OTR-9", 5)
	if err != nil {
		t.Fatalf("ContextBlock: %v", err)
	}
	if block != "" {
		t.Errorf("empty context produced block %q", block)
	}

	err = s.StoreInteraction(ctx, Interaction{
		SessionID:     "sess-1",
		ContextID:     "OTR-9",
		Platform:      "linear",
		UserMessage:   "investigate flaky test",
		AgentResponse: "found a race in the cache",
		Actions:       []string{"commented on OTR-9"},
	})
	if err != nil {
		t.Fatalf("StoreInteraction: %v", err)
	}

	block, err = s.ContextBlock(ctx, "OTR-9", 5)
	if err != nil {
		t.Fatalf("ContextBlock: %v", err)
	}
	for _, want := range []string{"Previous conversations", "investigate flaky test", "commented on OTR-9"} {
		if !strings.Contains(block, want) {
			t.Errorf("block missing %q:\n%s", want, block)
		}
	}
}
