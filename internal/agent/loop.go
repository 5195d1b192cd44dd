// Package agent implements the session lifecycle: session creation
// keyed by conversation context, the bounded retry loop with goal
// evaluation between attempts, and guaranteed cleanup on every exit
// path. This is the entry point the platform handlers call.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/otron-io/otron/internal/activity"
	"github.com/otron-io/otron/internal/evaluator"
	"github.com/otron-io/otron/internal/guidance"
	"github.com/otron-io/otron/internal/llm"
	"github.com/otron-io/otron/internal/memory"
	"github.com/otron-io/otron/internal/repos"
	"github.com/otron-io/otron/internal/session"
	"github.com/otron-io/otron/internal/supervisor"
	"github.com/otron-io/otron/internal/tools"
)

// MaxRetryAttempts bounds the number of model-call phases per request.
// The goal evaluator can end the loop early; nothing can extend it.
const MaxRetryAttempts = 2

// SessionStore is the slice of the durable store the lifecycle needs.
// *store.Redis satisfies it.
type SessionStore interface {
	CreateActive(ctx context.Context, s *session.Session) error
	UpdateActive(ctx context.Context, id string, u session.Update) error
	CompleteAndArchive(ctx context.Context, id string, final session.FinalStatus, errMsg string) (*session.Completed, error)
	IsCancelled(ctx context.Context, id string) (bool, error)
	DrainMessages(ctx context.Context, id string) ([]session.QueuedMessage, error)
	TryClaimContext(ctx context.Context, contextID, sessionID string) (bool, error)
	ReleaseContext(ctx context.Context, contextID, sessionID string) error
}

// Memory is the long-term memory surface the lifecycle and supervisor
// consume. *memory.Store satisfies it. All calls are best-effort.
type Memory interface {
	StoreInteraction(ctx context.Context, rec memory.Interaction) error
	TrackToolUsage(ctx context.Context, tool string, success bool) error
	ContextBlock(ctx context.Context, contextID string, limit int) (string, error)
}

// RepoSource provides the active repository definitions for prompt
// context. *repos.Store satisfies it.
type RepoSource interface {
	Active(ctx context.Context) ([]repos.Definition, error)
}

// ContextBusyError is returned when another session already holds the
// claim for the request's context. Callers should enqueue a message
// into the holder instead of starting a new session.
type ContextBusyError struct {
	ContextID string
}

func (e *ContextBusyError) Error() string {
	return fmt.Sprintf("context %s already has an active session", e.ContextID)
}

// Request is one incoming piece of work for the agent.
type Request struct {
	// Messages is the triggering conversation, oldest first.
	Messages []llm.Message

	// Chat is set when the request originated in a chat thread.
	Chat *session.ChatContext

	// Metadata carries platform identifiers onto the session record.
	Metadata session.Metadata

	// ExternalSessionID, when set, is used as the session id and
	// identifies the session to the external completion hook.
	ExternalSessionID string

	// OnComplete is the best-effort external completion hook. Its own
	// failure never affects the returned result.
	OnComplete func(ctx context.Context, completed *session.Completed)
}

// Loop is the session lifecycle manager.
type Loop struct {
	store        SessionStore
	memory       Memory
	repoSource   RepoSource
	registry     *tools.Registry
	client       llm.Client
	evaluator    *evaluator.Evaluator
	activityLog  activity.Log
	model        string
	maxSteps     int
	instructions string
	guidance     []guidance.Document
	logger       *slog.Logger
}

// Config wires a Loop. Memory, RepoSource, and ActivityLog may be nil.
type Config struct {
	Store       SessionStore
	Memory      Memory
	RepoSource  RepoSource
	Registry    *tools.Registry
	Client      llm.Client
	Model       string
	MaxSteps    int
	ActivityLog activity.Log

	// Instructions is the base system prompt; context blocks are
	// appended per session.
	Instructions string

	// Guidance holds operator-written instruction documents appended
	// to the system prompt, filtered by the session's platform.
	Guidance []guidance.Document
}

// New creates a session lifecycle manager.
func New(cfg Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	log := cfg.ActivityLog
	if log == nil {
		log = activity.Nop{}
	}
	return &Loop{
		store:        cfg.Store,
		memory:       cfg.Memory,
		repoSource:   cfg.RepoSource,
		registry:     cfg.Registry,
		client:       cfg.Client,
		evaluator:    evaluator.New(cfg.Client, cfg.Model, logger),
		activityLog:  log,
		model:        cfg.Model,
		maxSteps:     cfg.MaxSteps,
		instructions: cfg.Instructions,
		guidance:     cfg.Guidance,
		logger:       logger.With("component", "agent"),
	}
}

// ProcessRequest runs one complete agent session and returns the final
// response text. Cancellation (context, durable flag, or stop message)
// and final-attempt failures surface as errors — but only after the
// session has been archived and removed from the active index.
func (l *Loop) ProcessRequest(ctx context.Context, req Request) (string, error) {
	sessionID := req.ExternalSessionID
	if sessionID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generate session id: %w", err)
		}
		sessionID = id.String()
	}

	sessMessages := toSessionMessages(req.Messages)
	contextID := session.ExtractContextID(sessMessages, req.Chat)
	platform := session.ResolvePlatform(contextID, req.Chat)

	logger := l.logger.With("session", sessionID, "context", contextID, "platform", platform)

	// Claim the context before creating the session so two
	// near-simultaneous triggers for the same issue cannot both start.
	// The general bucket is unclaimed — unrelated requests share it.
	if contextID != session.GeneralContext {
		ok, err := l.store.TryClaimContext(ctx, contextID, sessionID)
		if err != nil {
			return "", fmt.Errorf("claim context: %w", err)
		}
		if !ok {
			logger.Info("context already claimed, refusing session")
			return "", &ContextBusyError{ContextID: contextID}
		}
	}

	sess := &session.Session{
		ID:        sessionID,
		ContextID: contextID,
		StartTime: time.Now().UTC(),
		Platform:  platform,
		Status:    session.StatusInitializing,
		Messages:  sessMessages,
		Metadata:  req.Metadata,
	}
	if err := l.store.CreateActive(ctx, sess); err != nil {
		// The claim is normally released by cleanup, which only runs
		// once the session exists. Release it here or the context
		// stays wedged until the claim TTL expires.
		if contextID != session.GeneralContext {
			if relErr := l.store.ReleaseContext(ctx, contextID, sessionID); relErr != nil {
				logger.Warn("context claim release failed", "error", relErr)
			}
		}
		return "", fmt.Errorf("create session: %w", err)
	}

	logger.Info("session started", "messages", len(req.Messages))

	// Cleanup runs exactly once on every exit path, archiving with
	// whatever final state the body recorded.
	final := session.FinalError
	finalErrMsg := "session ended without recording an outcome"
	defer func() {
		l.cleanup(sessionID, final, finalErrMsg, req.OnComplete, logger)
	}()

	if err := ctx.Err(); err != nil {
		final, finalErrMsg = session.FinalCancelled, "cancelled before first attempt"
		return "", fmt.Errorf("%w: %v", supervisor.ErrAborted, err)
	}

	narrate := l.activityLog
	if platform != session.PlatformLinear {
		narrate = activity.Nop{}
	}

	// originalMessages feeds the evaluator unchanged across attempts;
	// liveMessages accumulates retry feedback and interjections.
	originalMessages := append([]llm.Message(nil), req.Messages...)
	liveMessages := l.withInstructions(ctx, contextID, platform, req.Messages)

	var responseText string
	for attempt := 1; attempt <= MaxRetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			final, finalErrMsg = session.FinalCancelled, "cancelled between attempts"
			return "", fmt.Errorf("%w: %v", supervisor.ErrAborted, err)
		}

		l.setStatus(ctx, sess, session.StatusPlanning)

		sup := supervisor.New(sess, l.store, l.memory, l.registry, narrate, logger)
		runner := llm.NewRunner(l.client, l.model, l.maxSteps, tools.EndOfActions, logger)
		runner.OnInterject(sup.Interjections)

		result, err := runner.Run(ctx, liveMessages, l.registry.List(), sup.Execute)
		if err != nil {
			if isCancellation(err) {
				final, finalErrMsg = session.FinalCancelled, err.Error()
				logger.Info("session cancelled", "attempt", attempt, "reason", err)
				return "", err
			}
			if attempt == MaxRetryAttempts {
				final, finalErrMsg = session.FinalError, err.Error()
				logger.Error("final attempt failed", "attempt", attempt, "error", err)
				return "", err
			}
			// Non-final attempt failures are swallowed and retried.
			logger.Warn("attempt failed, retrying", "attempt", attempt, "error", err)
			continue
		}

		responseText = result.Text
		liveMessages = result.Messages
		l.setStatus(ctx, sess, session.StatusCompleting)

		if attempt == MaxRetryAttempts {
			break
		}

		eval, evalErr := l.evaluator.Evaluate(ctx, originalMessages, evaluator.Outcome{
			ToolsUsed:        sess.ToolsUsed,
			ActionsPerformed: sess.ActionsPerformed,
			FinalResponse:    responseText,
			EndedExplicitly:  result.EndedExplicitly,
		}, attempt)
		if evalErr != nil {
			// An unusable verdict must not burn the remaining attempt
			// on a blind retry; keep the response we have.
			logger.Warn("goal evaluation unavailable, accepting response", "error", evalErr)
			break
		}
		if eval.Met() {
			logger.Info("goal met", "attempt", attempt, "confidence", eval.Confidence)
			break
		}

		feedback := evaluator.RetryFeedback(eval, attempt)
		liveMessages = append(liveMessages, llm.Message{Role: "user", Content: feedback})
		logger.Info("goal not met, retrying", "attempt", attempt,
			"confidence", eval.Confidence, "reasoning", eval.Reasoning)
	}

	l.rememberExchange(ctx, sess, originalMessages, responseText)

	final, finalErrMsg = session.FinalCompleted, ""
	logger.Info("session completed",
		"tools", len(sess.ToolsUsed), "actions", len(sess.ActionsPerformed))
	return responseText, nil
}

// isCancellation reports whether the error came from any of the three
// cancellation channels.
func isCancellation(err error) bool {
	return errors.Is(err, supervisor.ErrAborted) ||
		errors.Is(err, supervisor.ErrStopRequested) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// cleanup archives the session. It uses a fresh context so a cancelled
// request still leaves the store consistent.
func (l *Loop) cleanup(sessionID string, final session.FinalStatus, errMsg string, hook func(context.Context, *session.Completed), logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	completed, err := l.store.CompleteAndArchive(ctx, sessionID, final, errMsg)
	if err != nil {
		logger.Error("session archive failed", "error", err)
		return
	}
	if completed == nil {
		logger.Warn("session already archived")
		return
	}
	logger.Info("session archived", "final", final, "duration_ms", completed.DurationMS)

	if hook != nil {
		hook(ctx, completed)
	}
}

// setStatus updates the live and durable status.
func (l *Loop) setStatus(ctx context.Context, sess *session.Session, status session.Status) {
	sess.Status = status
	if err := l.store.UpdateActive(ctx, sess.ID, session.Update{Status: &status}); err != nil {
		l.logger.Warn("status update failed", "session", sess.ID, "error", err)
	}
}

// withInstructions prepends the system prompt assembled from the base
// instructions, platform guidance, memory context, and active
// repository definitions. Context assembly is best-effort: a failing
// collaborator contributes an empty block, never an error.
func (l *Loop) withInstructions(ctx context.Context, contextID string, platform session.Platform, messages []llm.Message) []llm.Message {
	var b strings.Builder
	b.WriteString(l.instructions)

	if block := guidance.ForPlatform(l.guidance, string(platform)); block != "" {
		b.WriteString("\n\n")
		b.WriteString(block)
	}

	if l.memory != nil {
		block, err := l.memory.ContextBlock(ctx, contextID, 5)
		if err != nil {
			l.logger.Warn("memory context unavailable", "context", contextID, "error", err)
		} else if block != "" {
			b.WriteString("\n\n")
			b.WriteString(block)
		}
	}

	if l.repoSource != nil {
		defs, err := l.repoSource.Active(ctx)
		if err != nil {
			l.logger.Warn("repo context unavailable", "error", err)
		} else if block := repos.ContextBlock(defs); block != "" {
			b.WriteString("\n\n")
			b.WriteString(block)
		}
	}

	out := make([]llm.Message, 0, len(messages)+1)
	out = append(out, llm.Message{Role: "system", Content: b.String()})
	return append(out, messages...)
}

// rememberExchange stores the whole exchange in long-term memory.
// Best-effort.
func (l *Loop) rememberExchange(ctx context.Context, sess *session.Session, original []llm.Message, response string) {
	if l.memory == nil {
		return
	}

	var userText strings.Builder
	for _, m := range original {
		if m.Role == "user" {
			userText.WriteString(m.Content)
			userText.WriteString("\n")
		}
	}

	err := l.memory.StoreInteraction(ctx, memory.Interaction{
		SessionID:     sess.ID,
		ContextID:     sess.ContextID,
		Platform:      string(sess.Platform),
		UserMessage:   strings.TrimSpace(userText.String()),
		AgentResponse: response,
		ToolsUsed:     sess.ToolsUsed,
		Actions:       sess.ActionsPerformed,
	})
	if err != nil {
		l.logger.Warn("exchange memory store failed", "session", sess.ID, "error", err)
	}
}

func toSessionMessages(messages []llm.Message) []session.Message {
	out := make([]session.Message, 0, len(messages))
	now := time.Now().UTC()
	for _, m := range messages {
		out = append(out, session.Message{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: now,
		})
	}
	return out
}
