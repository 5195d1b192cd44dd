package webhook

import (
	"bytes"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"

	"github.com/otron-io/otron/internal/session"
)

const transcriptStyle = `body{font-family:sans-serif;max-width:52rem;margin:2rem auto;padding:0 1rem}
.msg{border-left:3px solid #ccc;margin:1rem 0;padding:.25rem 1rem}
.msg.user{border-color:#2b6cb0}.msg.assistant{border-color:#2f855a}
.msg.tool{border-color:#b7791f;background:#fffdf5}
.meta{color:#666;font-size:.85rem}
header p{color:#444}`

// handleSessionTranscript renders a session's messages as HTML, with
// message bodies treated as markdown.
func (s *Server) handleSessionTranscript(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var (
		sess  *session.Session
		final string
	)
	if active, err := s.store.GetActive(ctx, id); err == nil && active != nil {
		sess = active
	} else {
		completed, err := s.store.GetCompleted(ctx, id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "session lookup failed")
			return
		}
		if completed == nil {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		sess = &completed.Session
		final = string(completed.FinalStatus)
	}

	var b strings.Builder
	b.WriteString("<!doctype html><html><head><meta charset=\"utf-8\">")
	fmt.Fprintf(&b, "<title>Session %s</title>", html.EscapeString(sess.ID))
	fmt.Fprintf(&b, "<style>%s</style></head><body>", transcriptStyle)

	fmt.Fprintf(&b, "<header><h1>Session %s</h1>", html.EscapeString(sess.ID))
	fmt.Fprintf(&b, "<p>context %s · %s · status %s",
		html.EscapeString(sess.ContextID),
		html.EscapeString(string(sess.Platform)),
		html.EscapeString(string(sess.Status)))
	if final != "" {
		fmt.Fprintf(&b, " · final %s", html.EscapeString(final))
	}
	b.WriteString("</p>")
	if len(sess.ToolsUsed) > 0 {
		fmt.Fprintf(&b, "<p>tools: %s</p>", html.EscapeString(strings.Join(sess.ToolsUsed, ", ")))
	}
	b.WriteString("</header>")

	for _, m := range sess.Messages {
		roleClass := m.Role
		switch roleClass {
		case "user", "assistant", "tool", "system":
		default:
			roleClass = "other"
		}
		fmt.Fprintf(&b, "<div class=\"msg %s\"><div class=\"meta\">%s", roleClass, html.EscapeString(m.Role))
		if !m.Timestamp.IsZero() {
			fmt.Fprintf(&b, " · %s", m.Timestamp.Format(time.RFC3339))
		}
		b.WriteString("</div>")
		b.WriteString(renderMarkdown(m.Content))
		b.WriteString("</div>")
	}

	b.WriteString("</body></html>")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(b.String())); err != nil {
		s.logger.Debug("failed to write transcript", "error", err)
	}
}

// renderMarkdown converts message markdown to HTML, falling back to
// escaped preformatted text if conversion fails.
func renderMarkdown(md string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "<pre>" + html.EscapeString(md) + "</pre>"
	}
	return buf.String()
}
