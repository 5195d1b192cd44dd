package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/otron-io/otron/internal/agent"
	"github.com/otron-io/otron/internal/llm"
	"github.com/otron-io/otron/internal/session"
)

// linearPayload covers app-user notifications, the webhook category
// Linear delivers when the agent is mentioned, assigned, or replied to.
type linearPayload struct {
	Action       string `json:"action"`
	Type         string `json:"type"`
	Notification struct {
		Type  string `json:"type"`
		Issue struct {
			ID          string `json:"id"`
			Identifier  string `json:"identifier"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"issue"`
		Comment struct {
			ID   string `json:"id"`
			Body string `json:"body"`
		} `json:"comment"`
		Actor struct {
			Name string `json:"name"`
		} `json:"actor"`
	} `json:"notification"`
}

func (s *Server) handleLinearWebhook(w http.ResponseWriter, r *http.Request) {
	if s.secrets.Linear == "" {
		s.writeError(w, http.StatusServiceUnavailable, "linear webhook not configured")
		return
	}
	body, err := readBody(r, maxWebhookBody)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := verifyLinearSignature(s.secrets.Linear, r.Header.Get("Linear-Signature"), body); err != nil {
		s.logger.Warn("linear signature rejected", "error", err)
		s.writeError(w, http.StatusUnauthorized, "signature verification failed")
		return
	}

	var payload linearPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if payload.Type != "AppUserNotification" {
		w.WriteHeader(http.StatusOK)
		return
	}

	n := payload.Notification
	if n.Issue.Identifier == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	content := linearRequestText(payload)
	issueID := n.Issue.ID

	req := agent.Request{
		Messages: []llm.Message{{Role: "user", Content: content}},
		Metadata: session.Metadata{IssueID: issueID},
	}
	s.dispatch(req, func(ctx context.Context, text string) {
		if s.linear == nil {
			return
		}
		if err := s.linear.CreateComment(ctx, issueID, text); err != nil {
			s.logger.Warn("linear response delivery failed", "issue", issueID, "error", err)
		}
	})

	w.WriteHeader(http.StatusOK)
}

// linearRequestText renders the notification as the session's opening
// user message. The issue identifier is included so context extraction
// scopes the session to the issue.
func linearRequestText(p linearPayload) string {
	n := p.Notification
	var b strings.Builder

	switch n.Type {
	case "issueAssignedToYou":
		fmt.Fprintf(&b, "You have been assigned issue %s: %s\n", n.Issue.Identifier, n.Issue.Title)
	case "issueCommentMention", "issueMention":
		fmt.Fprintf(&b, "%s mentioned you on issue %s: %s\n", actorOrSomeone(n.Actor.Name), n.Issue.Identifier, n.Issue.Title)
	case "issueNewComment":
		fmt.Fprintf(&b, "New comment on issue %s: %s\n", n.Issue.Identifier, n.Issue.Title)
	default:
		fmt.Fprintf(&b, "Notification (%s) on issue %s: %s\n", n.Type, n.Issue.Identifier, n.Issue.Title)
	}

	if n.Issue.Description != "" {
		fmt.Fprintf(&b, "\nIssue description:\n%s\n", n.Issue.Description)
	}
	if n.Comment.Body != "" {
		fmt.Fprintf(&b, "\nComment:\n%s\n", n.Comment.Body)
	}
	return strings.TrimSpace(b.String())
}

func actorOrSomeone(name string) string {
	if name == "" {
		return "Someone"
	}
	return name
}
