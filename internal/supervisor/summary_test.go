package supervisor

import (
	"errors"
	"strings"
	"testing"
)

func TestParamSummaryKnownTools(t *testing.T) {
	tests := []struct {
		tool string
		args map[string]any
		want string
	}{
		{
			"search_code",
			map[string]any{"query": "login bug", "repository": "o/r", "filter": "extension:go"},
			`"login bug" in o/r (extension:go)`,
		},
		{
			"read_file",
			map[string]any{"path": "main.go", "repository": "o/r", "start_line": float64(10), "end_line": float64(20)},
			"main.go in o/r lines 10-20",
		},
		{
			"create_pull_request",
			map[string]any{"title": "Fix login", "head": "fix-login", "base": "main"},
			`"Fix login" (fix-login → main)`,
		},
		{
			"update_issue_status",
			map[string]any{"issue_id": "OTR-42", "state": "Done"},
			"OTR-42 → Done",
		},
	}
	for _, tt := range tests {
		if got := ParamSummary(tt.tool, tt.args); got != tt.want {
			t.Errorf("ParamSummary(%s) = %q, want %q", tt.tool, got, tt.want)
		}
	}
}

func TestParamSummaryGenericFallback(t *testing.T) {
	got := ParamSummary("mystery_tool", map[string]any{
		"alpha": "one",
		"beta":  strings.Repeat("x", 100),
	})
	if !strings.HasPrefix(got, "alpha:one, beta:") {
		t.Errorf("generic summary = %q", got)
	}
	if !strings.Contains(got, "…") {
		t.Errorf("long value not truncated: %q", got)
	}

	if got := ParamSummary("mystery_tool", nil); got != "(no parameters)" {
		t.Errorf("empty summary = %q", got)
	}
}

func TestResultSummary(t *testing.T) {
	if got := ResultSummary("read_file", "a\nb\nc"); got != "read 3 lines" {
		t.Errorf("read_file summary = %q", got)
	}
	if got := ResultSummary("search_code", "Found 4 matches:\n..."); got != "Found 4 matches:" {
		t.Errorf("search summary = %q", got)
	}
	if got := ResultSummary("create_pull_request", "Created pull request: https://github.com/o/r/pull/17"); got != "opened PR #17" {
		t.Errorf("PR summary = %q", got)
	}
}

func TestGuidance(t *testing.T) {
	if g := Guidance("read_file", errors.New("github: 404 not found")); !strings.Contains(g, "does not exist") {
		t.Errorf("404 guidance = %q", g)
	}
	if g := Guidance("search_code", &CircuitBreakerError{Tool: "search_code", Count: 3}); !strings.Contains(g, "Do not retry") {
		t.Errorf("breaker guidance = %q", g)
	}
	if g := Guidance("create_branch", errors.New("boom")); g == "" {
		t.Errorf("tool-specific guidance missing")
	}
}
