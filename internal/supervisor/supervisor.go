// Package supervisor wraps every tool execution with the safeguards a
// long-running agent session needs: circuit-breaking on repeated
// identical calls, cancellation checks at call boundaries, queued
// message interjection, strategy tracking, and structured narration.
// Tool failures never escape to the session — they are converted into
// structured error payloads the model can read and adapt to.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/otron-io/otron/internal/activity"
	"github.com/otron-io/otron/internal/llm"
	"github.com/otron-io/otron/internal/memory"
	"github.com/otron-io/otron/internal/session"
	"github.com/otron-io/otron/internal/tools"
)

// breakerHistorySize bounds the per-session call-signature history.
// Eviction is the only way a tripped signature becomes callable again.
const breakerHistorySize = 10

// breakerThreshold is the number of prior identical calls after which
// the next identical call is refused.
const breakerThreshold = 3

// gatheringThreshold is the number of search+read+analysis operations
// after which a session still in the planning phase is described as
// gathering.
const gatheringThreshold = 3

// ErrStopRequested is raised when a stop-typed queued message is
// drained before a tool call. The lifecycle manager treats it as
// cancellation.
var ErrStopRequested = errors.New("stop command received")

// ErrAborted is raised when a cancellation signal (in-process context
// or durable flag) is observed at a tool-call boundary.
var ErrAborted = errors.New("session aborted")

// CircuitBreakerError reports a refused tool call. It is surfaced to
// the model as a normal tool failure, never as a session-fatal error.
type CircuitBreakerError struct {
	Tool  string
	Count int
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker: %s called identically %d times, refusing — this looks like an infinite retry loop", e.Tool, e.Count)
}

// Store is the slice of the session store the supervisor needs.
type Store interface {
	UpdateActive(ctx context.Context, id string, u session.Update) error
	IsCancelled(ctx context.Context, id string) (bool, error)
	DrainMessages(ctx context.Context, id string) ([]session.QueuedMessage, error)
}

// Memory receives best-effort usage records. Failures are logged and
// swallowed, never propagated.
type Memory interface {
	StoreInteraction(ctx context.Context, rec memory.Interaction) error
	TrackToolUsage(ctx context.Context, tool string, success bool) error
}

// Supervisor guards tool execution for one session attempt. It is the
// single in-process owner of the session's live state; concurrent
// outside callers influence the session only through the store's
// message queue.
type Supervisor struct {
	sess     *session.Session
	store    Store
	memory   Memory
	registry *tools.Registry
	log      activity.Log
	logger   *slog.Logger

	history       []string
	toolCounts    map[string]int
	catCounts     map[tools.Category]int
	startedAction bool
	interjections []llm.Message
}

// New creates a supervisor for one session. memory may be nil; log may
// be activity.Nop{} for contexts without a narration surface.
func New(sess *session.Session, store Store, mem Memory, registry *tools.Registry, log activity.Log, logger *slog.Logger) *Supervisor {
	if log == nil {
		log = activity.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		sess:       sess,
		store:      store,
		memory:     mem,
		registry:   registry,
		log:        log,
		logger:     logger.With("component", "supervisor", "session", sess.ID),
		toolCounts: make(map[string]int),
		catCounts:  make(map[tools.Category]int),
	}
}

// Interjections returns and clears the queued user messages drained
// since the last call. Wired to the runner's interjection hook.
func (s *Supervisor) Interjections() []llm.Message {
	out := s.interjections
	s.interjections = nil
	return out
}

// signature builds the circuit-breaker call signature: tool name plus
// a stable serialization of the arguments. encoding/json sorts map
// keys, which gives the stability.
func signature(name string, args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		data = []byte(fmt.Sprint(args))
	}
	return name + ":" + string(data)
}

// Execute runs one tool call under full supervision. The returned
// content always goes back to the model; a non-nil error is
// session-fatal (cancellation or stop) and aborts the run.
func (s *Supervisor) Execute(ctx context.Context, call llm.ToolCall) (string, error) {
	// Session bookkeeping first: currentTool and toolsUsed reflect
	// the attempt even if the call is later refused.
	s.sess.CurrentTool = call.Name
	s.sess.AddToolUsed(call.Name)
	s.persist(ctx, session.Update{
		CurrentTool: &call.Name,
		ToolsUsed:   s.sess.ToolsUsed,
	})

	// In-process cancellation. No tool side effect may occur past a
	// signalled token.
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAborted, err)
	}

	// Durable cancellation flag, set by another process or webhook
	// invocation.
	cancelled, err := s.store.IsCancelled(ctx, s.sess.ID)
	if err != nil {
		s.logger.Warn("cancellation flag check failed", "error", err)
	} else if cancelled {
		s.logger.Info("durable cancellation flag set, aborting", "tool", call.Name)
		return "", fmt.Errorf("%w: cancellation requested externally", ErrAborted)
	}

	// Circuit breaker.
	sig := signature(call.Name, call.Arguments)
	if n := s.countSignature(sig); n >= breakerThreshold {
		breakerErr := &CircuitBreakerError{Tool: call.Name, Count: n}
		s.logger.Warn("circuit breaker tripped", "tool", call.Name, "repeats", n)
		s.log.Thought(ctx, s.sess.ContextID,
			fmt.Sprintf("Refusing to run %s again — the same call has been made %d times. Trying something different.", call.Name, n))
		return s.failurePayload(ctx, call, breakerErr), nil
	}

	// Queued-message drain. Stop messages terminate the session before
	// the tool runs; everything else joins the live conversation.
	if stopErr := s.drainQueue(ctx); stopErr != nil {
		return "", stopErr
	}

	// Strategy tracking.
	s.trackUsage(ctx, call.Name)

	// Pre-call narration.
	params := ParamSummary(call.Name, call.Arguments)
	s.log.Thought(ctx, s.sess.ContextID, fmt.Sprintf("Running %s: %s", call.Name, params))

	s.recordSignature(sig)
	result, execErr := s.registry.Execute(ctx, call.Name, call.Arguments)
	if execErr != nil {
		return s.failurePayload(ctx, call, execErr), nil
	}

	s.recordSuccess(ctx, call, params, result)
	return result, nil
}

// countSignature returns how many times sig appears in the bounded
// history.
func (s *Supervisor) countSignature(sig string) int {
	n := 0
	for _, h := range s.history {
		if h == sig {
			n++
		}
	}
	return n
}

// recordSignature appends to the history, evicting the oldest entry
// past the window. The window spans all tools, so unrelated calls can
// evict a repeated signature.
func (s *Supervisor) recordSignature(sig string) {
	s.history = append(s.history, sig)
	if len(s.history) > breakerHistorySize {
		s.history = s.history[len(s.history)-breakerHistorySize:]
	}
}

// drainQueue fetches and clears queued messages. A stop-typed message
// wins over everything else queued alongside it.
func (s *Supervisor) drainQueue(ctx context.Context) error {
	msgs, err := s.store.DrainMessages(ctx, s.sess.ID)
	if err != nil {
		s.logger.Warn("queue drain failed", "error", err)
		return nil
	}
	if len(msgs) == 0 {
		return nil
	}

	for _, m := range msgs {
		if m.Type == session.MessageStop {
			s.log.Response(ctx, s.sess.ContextID, "Stopping as requested.")
			return fmt.Errorf("%w", ErrStopRequested)
		}
	}

	for _, m := range msgs {
		text := fmt.Sprintf("[%s] %s", m.Timestamp.Format(time.RFC3339), m.Content)
		s.interjections = append(s.interjections, llm.Message{Role: "user", Content: text})
		s.sess.Messages = append(s.sess.Messages, session.Message{
			Role:      "user",
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	s.persist(ctx, session.Update{Messages: s.sess.Messages})
	s.logger.Info("interjected queued messages", "count", len(msgs))
	return nil
}

// trackUsage updates per-tool and per-category counters and the
// descriptive phase. Phase transitions are narration only — they never
// gate execution.
func (s *Supervisor) trackUsage(ctx context.Context, name string) {
	s.toolCounts[name]++
	cat := tools.Classify(name)
	s.catCounts[cat]++

	switch {
	case cat == tools.CategoryAction && !s.startedAction:
		s.startedAction = true
		s.setStatus(ctx, session.StatusActing)
	case s.sess.Status == session.StatusPlanning:
		gathered := s.catCounts[tools.CategorySearch] +
			s.catCounts[tools.CategoryRead] +
			s.catCounts[tools.CategoryAnalysis]
		if gathered >= gatheringThreshold {
			s.setStatus(ctx, session.StatusGathering)
		}
	}
}

func (s *Supervisor) setStatus(ctx context.Context, status session.Status) {
	s.sess.Status = status
	s.persist(ctx, session.Update{Status: &status})
	s.logger.Debug("phase transition", "status", status)
}

// recordSuccess handles post-call narration, action bookkeeping, and
// best-effort memory updates. The session reads as idle again once the
// call has finished.
func (s *Supervisor) recordSuccess(ctx context.Context, call llm.ToolCall, params, result string) {
	summary := ResultSummary(call.Name, result)
	s.sess.CurrentTool = ""
	idle := ""

	if tools.Classify(call.Name) == tools.CategoryAction {
		label := ActionLabel(call.Name)
		s.sess.ActionsPerformed = append(s.sess.ActionsPerformed, fmt.Sprintf("%s: %s", label, summary))
		s.persist(ctx, session.Update{CurrentTool: &idle, ActionsPerformed: s.sess.ActionsPerformed})
		s.log.Action(ctx, s.sess.ContextID, label, params, summary)
	} else {
		s.persist(ctx, session.Update{CurrentTool: &idle})
		s.log.Thought(ctx, s.sess.ContextID, fmt.Sprintf("%s → %s", call.Name, summary))
	}

	s.remember(ctx, call, result, true)
}

// failurePayload converts a tool failure into the structured object
// the model receives instead of an exception. The session continues.
func (s *Supervisor) failurePayload(ctx context.Context, call llm.ToolCall, execErr error) string {
	guidance := Guidance(call.Name, execErr)
	s.logger.Info("tool failed", "tool", call.Name, "error", execErr)

	s.sess.CurrentTool = ""
	idle := ""
	s.persist(ctx, session.Update{CurrentTool: &idle})

	s.log.Thought(ctx, s.sess.ContextID,
		fmt.Sprintf("%s failed: %v. %s", call.Name, execErr, guidance))

	s.remember(ctx, call, execErr.Error(), false)

	kind := "ToolExecutionFailure"
	var breakerErr *CircuitBreakerError
	if errors.As(execErr, &breakerErr) {
		kind = "CircuitBreakerTripped"
	}

	payload, err := json.Marshal(map[string]any{
		"success":  false,
		"error":    kind,
		"message":  execErr.Error(),
		"guidance": guidance,
	})
	if err != nil {
		return fmt.Sprintf(`{"success":false,"message":%q}`, execErr.Error())
	}
	return string(payload)
}

// remember records the call in long-term statistics and per-context
// memory. Best-effort: failures are logged and swallowed.
func (s *Supervisor) remember(ctx context.Context, call llm.ToolCall, response string, success bool) {
	if s.memory == nil {
		return
	}
	if err := s.memory.TrackToolUsage(ctx, call.Name, success); err != nil {
		s.logger.Warn("tool usage tracking failed", "tool", call.Name, "error", err)
	}

	input, _ := json.Marshal(call.Arguments)
	err := s.memory.StoreInteraction(ctx, memory.Interaction{
		SessionID:     s.sess.ID,
		ContextID:     s.sess.ContextID,
		Platform:      string(s.sess.Platform),
		UserMessage:   fmt.Sprintf("%s(%s)", call.Name, input),
		AgentResponse: response,
		ToolsUsed:     []string{call.Name},
	})
	if err != nil {
		s.logger.Warn("interaction memory store failed", "tool", call.Name, "error", err)
	}
}

// persist applies a partial update to the durable record. Last-write
// wins; failures are logged, not propagated — the in-process state is
// authoritative for this session.
func (s *Supervisor) persist(ctx context.Context, u session.Update) {
	if err := s.store.UpdateActive(ctx, s.sess.ID, u); err != nil {
		s.logger.Warn("session update failed", "error", err)
	}
}
