// Package webhook implements the inbound HTTP surface: platform
// webhook receivers with signature verification, and the session
// inspection and control API.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/otron-io/otron/internal/agent"
	"github.com/otron-io/otron/internal/session"
)

// Agent runs one session per request. *agent.Loop satisfies it.
type Agent interface {
	ProcessRequest(ctx context.Context, req agent.Request) (string, error)
}

// Sessions is the store surface the HTTP API needs. *store.Redis
// satisfies it.
type Sessions interface {
	GetActive(ctx context.Context, id string) (*session.Session, error)
	ListActiveIDs(ctx context.Context) ([]string, error)
	GetCompleted(ctx context.Context, id string) (*session.Completed, error)
	ListCompleted(ctx context.Context, offset, limit int) ([]*session.Completed, error)
	RequestCancellation(ctx context.Context, id string) error
	EnqueueMessage(ctx context.Context, id string, msg session.QueuedMessage) error
	ClaimHolder(ctx context.Context, contextID string) (string, error)
}

// SlackResponder posts the agent's final response into the thread the
// request came from.
type SlackResponder interface {
	PostMessage(ctx context.Context, channel, threadTS, text string) (string, error)
}

// LinearResponder posts the agent's final response as an issue comment.
type LinearResponder interface {
	CreateComment(ctx context.Context, issueID, body string) error
}

// Secrets holds the per-platform webhook signing secrets. An empty
// secret disables that platform's endpoint.
type Secrets struct {
	SlackSigning string
	Linear       string
	GitHub       string
}

// Config wires a Server.
type Config struct {
	Address string
	Agent   Agent
	Store   Sessions
	Slack   SlackResponder
	Linear  LinearResponder
	Secrets Secrets

	// SessionTimeout bounds one dispatched session end to end.
	SessionTimeout time.Duration
}

// Server is the inbound HTTP server.
type Server struct {
	address        string
	agent          Agent
	store          Sessions
	slack          SlackResponder
	linear         LinearResponder
	secrets        Secrets
	sessionTimeout time.Duration
	logger         *slog.Logger
	server         *http.Server

	// now is a test seam for the Slack replay-window check.
	now func() time.Time
}

const defaultSessionTimeout = 10 * time.Minute

// NewServer creates the HTTP server.
func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.SessionTimeout
	if timeout <= 0 {
		timeout = defaultSessionTimeout
	}
	return &Server{
		address:        cfg.Address,
		agent:          cfg.Agent,
		store:          cfg.Store,
		slack:          cfg.Slack,
		linear:         cfg.Linear,
		secrets:        cfg.Secrets,
		sessionTimeout: timeout,
		logger:         logger.With("component", "webhook"),
		now:            time.Now,
	}
}

// Handler builds the route tree. Exposed separately from Start so
// tests can drive it through httptest.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withLogging)

	r.Get("/health", s.handleHealth)

	r.Post("/webhooks/slack", s.handleSlackWebhook)
	r.Post("/webhooks/linear", s.handleLinearWebhook)
	r.Post("/webhooks/github", s.handleGitHubWebhook)

	r.Get("/sessions", s.handleSessionList)
	r.Get("/sessions/{id}", s.handleSessionGet)
	r.Get("/sessions/{id}/transcript", s.handleSessionTranscript)
	r.Post("/sessions/{id}/cancel", s.handleSessionCancel)
	r.Post("/sessions/{id}/messages", s.handleSessionMessage)

	return r
}

// Start begins serving and blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.address,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.logger.Info("starting webhook server", "address", s.address)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sessionListEntry is one row of GET /sessions.
type sessionListEntry struct {
	ID        string `json:"id"`
	ContextID string `json:"context_id"`
	Platform  string `json:"platform"`
	Status    string `json:"status"`
	Final     string `json:"final_status,omitempty"`
	StartTime string `json:"start_time"`
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var entries []sessionListEntry

	ids, err := s.store.ListActiveIDs(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "listing active sessions failed")
		return
	}
	for _, id := range ids {
		sess, err := s.store.GetActive(ctx, id)
		if err != nil || sess == nil {
			continue
		}
		entries = append(entries, sessionListEntry{
			ID:        sess.ID,
			ContextID: sess.ContextID,
			Platform:  string(sess.Platform),
			Status:    string(sess.Status),
			StartTime: sess.StartTime.Format(time.RFC3339),
		})
	}

	offset, limit := pageParams(r, 0, 20)
	completed, err := s.store.ListCompleted(ctx, offset, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "listing completed sessions failed")
		return
	}
	for _, c := range completed {
		entries = append(entries, sessionListEntry{
			ID:        c.ID,
			ContextID: c.ContextID,
			Platform:  string(c.Platform),
			Status:    string(c.Status),
			Final:     string(c.FinalStatus),
			StartTime: c.StartTime.Format(time.RFC3339),
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"active":   len(ids),
		"sessions": entries,
	})
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if sess, err := s.store.GetActive(ctx, id); err == nil && sess != nil {
		s.writeJSON(w, http.StatusOK, sess)
		return
	}
	completed, err := s.store.GetCompleted(ctx, id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "session lookup failed")
		return
	}
	if completed == nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, completed)
}

func (s *Server) handleSessionCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	sess, err := s.store.GetActive(ctx, id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "session lookup failed")
		return
	}
	if sess == nil {
		s.writeError(w, http.StatusNotFound, "no active session with that id")
		return
	}
	if err := s.store.RequestCancellation(ctx, id); err != nil {
		s.writeError(w, http.StatusInternalServerError, "cancellation request failed")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancellation requested"})
}

func (s *Server) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var body struct {
		Type    string `json:"type"`
		Content string `json:"content"`
		UserID  string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	msgType := session.MessageType(body.Type)
	switch msgType {
	case session.MessagePrompted, session.MessageStop, session.MessageCreated:
	case "":
		msgType = session.MessagePrompted
	default:
		s.writeError(w, http.StatusBadRequest, "unknown message type")
		return
	}
	if msgType != session.MessageStop && body.Content == "" {
		s.writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	sess, err := s.store.GetActive(ctx, id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "session lookup failed")
		return
	}
	if sess == nil {
		s.writeError(w, http.StatusNotFound, "no active session with that id")
		return
	}

	err = s.store.EnqueueMessage(ctx, id, session.QueuedMessage{
		Type:    msgType,
		Content: body.Content,
		UserID:  body.UserID,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// dispatch runs the request as a detached session: webhook handlers
// must acknowledge fast, so the work continues past the HTTP exchange.
// A busy context folds the message into the running session's queue
// instead of failing.
func (s *Server) dispatch(req agent.Request, respond func(ctx context.Context, text string)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.sessionTimeout)
		defer cancel()

		text, err := s.agent.ProcessRequest(ctx, req)
		if err != nil {
			var busy *agent.ContextBusyError
			if errors.As(err, &busy) {
				s.foldIntoRunning(ctx, busy.ContextID, req)
				return
			}
			s.logger.Error("dispatched session failed", "error", err)
			return
		}
		if respond != nil && text != "" {
			respond(ctx, text)
		}
	}()
}

// foldIntoRunning queues the triggering message onto the session that
// holds the context claim.
func (s *Server) foldIntoRunning(ctx context.Context, contextID string, req agent.Request) {
	holder, err := s.store.ClaimHolder(ctx, contextID)
	if err != nil || holder == "" {
		s.logger.Warn("busy context has no resolvable holder", "context", contextID, "error", err)
		return
	}
	var content string
	for _, m := range req.Messages {
		if m.Role == "user" {
			content = m.Content
		}
	}
	err = s.store.EnqueueMessage(ctx, holder, session.QueuedMessage{
		Type:    session.MessagePrompted,
		Content: content,
	})
	if err != nil {
		s.logger.Warn("queueing into running session failed", "session", holder, "error", err)
		return
	}
	s.logger.Info("folded request into running session", "context", contextID, "session", holder)
}

func pageParams(r *http.Request, defOffset, defLimit int) (int, int) {
	offset, limit := defOffset, defLimit
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	return offset, limit
}

func readBody(r *http.Request, limit int64) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
