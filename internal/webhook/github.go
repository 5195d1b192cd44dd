package webhook

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/otron-io/otron/internal/agent"
	"github.com/otron-io/otron/internal/llm"
)

// githubPayload covers the issues and issue_comment event shapes.
type githubPayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	} `json:"issue"`
	Comment struct {
		Body string `json:"body"`
		User struct {
			Login string `json:"login"`
			Type  string `json:"type"`
		} `json:"user"`
	} `json:"comment"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// githubMention is the handle that summons the agent from an issue or
// comment body.
const githubMention = "@otron"

func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	if s.secrets.GitHub == "" {
		s.writeError(w, http.StatusServiceUnavailable, "github webhook not configured")
		return
	}
	body, err := readBody(r, maxWebhookBody)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := verifyGitHubSignature(s.secrets.GitHub, r.Header.Get("X-Hub-Signature-256"), body); err != nil {
		s.logger.Warn("github signature rejected", "error", err)
		s.writeError(w, http.StatusUnauthorized, "signature verification failed")
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	switch event {
	case "issues", "issue_comment":
	case "ping":
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	var payload githubPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	content, ok := githubRequestText(event, payload)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	s.dispatch(agent.Request{
		Messages: []llm.Message{{Role: "user", Content: content}},
	}, nil)

	w.WriteHeader(http.StatusOK)
}

// githubRequestText decides whether the event summons the agent and,
// if so, renders the opening user message. Only opened issues and
// created comments that mention the agent qualify; bot comments never
// do.
func githubRequestText(event string, p githubPayload) (string, bool) {
	switch event {
	case "issues":
		if p.Action != "opened" || !strings.Contains(p.Issue.Body, githubMention) {
			return "", false
		}
		return fmt.Sprintf(
			"GitHub issue %s#%d opened: %s\n\n%s",
			p.Repository.FullName, p.Issue.Number, p.Issue.Title, p.Issue.Body,
		), true
	case "issue_comment":
		if p.Action != "created" || p.Comment.User.Type == "Bot" {
			return "", false
		}
		if !strings.Contains(p.Comment.Body, githubMention) {
			return "", false
		}
		return fmt.Sprintf(
			"%s mentioned you on GitHub issue %s#%d (%s):\n\n%s",
			p.Comment.User.Login, p.Repository.FullName, p.Issue.Number,
			p.Issue.Title, p.Comment.Body,
		), true
	}
	return "", false
}
