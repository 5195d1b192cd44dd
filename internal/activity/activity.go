// Package activity defines the session activity log: a narration sink
// that mirrors the agent's thoughts, actions, and responses to a
// platform surface (typically the Linear issue driving the session).
// Logging is best-effort everywhere — a failed narration never affects
// the session that produced it.
package activity

import (
	"context"
	"fmt"
	"log/slog"
)

// Log receives narration for one context. Implementations must be safe
// for concurrent use and must never block session progress on delivery.
type Log interface {
	// Thought records internal reasoning (pre-call summaries, phase
	// transitions, retries).
	Thought(ctx context.Context, contextID, text string)

	// Action records a completed tool call with its parameter and
	// result summaries.
	Action(ctx context.Context, contextID, label, params, result string)

	// Response records user-facing output produced by the session.
	Response(ctx context.Context, contextID, text string)
}

// Nop discards all narration. Sessions whose context has no platform
// surface for rich narration use this.
type Nop struct{}

func (Nop) Thought(context.Context, string, string)                {}
func (Nop) Action(context.Context, string, string, string, string) {}
func (Nop) Response(context.Context, string, string)               {}

// Commenter posts a comment to an issue. Satisfied by the Linear client.
type Commenter interface {
	CreateComment(ctx context.Context, issueID, body string) error
}

// IssueLog narrates to an issue tracker via comments. Delivery errors
// are logged and swallowed.
type IssueLog struct {
	commenter Commenter
	logger    *slog.Logger
}

// NewIssueLog creates an activity log that comments on issues.
func NewIssueLog(commenter Commenter, logger *slog.Logger) *IssueLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &IssueLog{commenter: commenter, logger: logger.With("component", "activity")}
}

func (l *IssueLog) post(ctx context.Context, contextID, body string) {
	if err := l.commenter.CreateComment(ctx, contextID, body); err != nil {
		l.logger.Warn("activity narration failed", "context", contextID, "error", err)
	}
}

func (l *IssueLog) Thought(ctx context.Context, contextID, text string) {
	l.post(ctx, contextID, fmt.Sprintf("💭 %s", text))
}

func (l *IssueLog) Action(ctx context.Context, contextID, label, params, result string) {
	body := fmt.Sprintf("⚙️ **%s**", label)
	if params != "" {
		body += fmt.Sprintf("\n%s", params)
	}
	if result != "" {
		body += fmt.Sprintf("\n→ %s", result)
	}
	l.post(ctx, contextID, body)
}

func (l *IssueLog) Response(ctx context.Context, contextID, text string) {
	l.post(ctx, contextID, text)
}
