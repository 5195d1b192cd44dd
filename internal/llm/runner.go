package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// DefaultMaxSteps caps the number of model turns in one model-call
// phase. The model may chain tool calls and reasoning across turns up
// to this budget.
const DefaultMaxSteps = 30

// ToolExecFunc executes one tool call and returns the content fed back
// to the model as the tool result. Tool-level failures must be encoded
// into the returned content, not the error — a non-nil error is
// session-fatal (cancellation, stop command, circuit-breaker escalation)
// and aborts the run immediately.
type ToolExecFunc func(ctx context.Context, call ToolCall) (string, error)

// RunResult is the aggregate outcome of one model-call phase.
type RunResult struct {
	// Text is the final assistant text of the phase.
	Text string

	// Messages is the full transcript including every tool exchange,
	// suitable for carrying into a retry attempt.
	Messages []Message

	// Steps is the number of model turns consumed.
	Steps int

	// EndedExplicitly is true when the model invoked the designated
	// end-of-actions tool rather than simply running out of things to do.
	EndedExplicitly bool

	InputTokens  int
	OutputTokens int
}

// Runner drives one model-call phase: repeated model turns with tool
// execution between them, bounded by a step budget. Tool calls within
// a turn run strictly in the order the model requested them — the
// supervisor's circuit breaker and queue drain depend on observing a
// consistent, monotonically updated history.
type Runner struct {
	client    Client
	model     string
	maxSteps  int
	endTool   string
	interject func() []Message
	logger    *slog.Logger
}

// NewRunner creates a runner for the given client, model, and step
// budget. endTool names the tool whose invocation marks an explicit
// end of actions; pass "" to disable that detection.
func NewRunner(client Client, model string, maxSteps int, endTool string, logger *slog.Logger) *Runner {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		client:   client,
		model:    model,
		maxSteps: maxSteps,
		endTool:  endTool,
		logger:   logger,
	}
}

// OnInterject registers a hook polled after each turn's tool calls.
// Messages it returns (queued user interjections drained mid-run) are
// appended to the transcript before the next model turn.
func (r *Runner) OnInterject(fn func() []Message) {
	r.interject = fn
}

// Run executes the phase. The supplied messages are not mutated; the
// evolving transcript is returned on the result.
func (r *Runner) Run(ctx context.Context, messages []Message, tools []map[string]any, exec ToolExecFunc) (*RunResult, error) {
	transcript := append([]Message(nil), messages...)
	result := &RunResult{}

	for step := 0; step < r.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := r.client.Chat(ctx, r.model, transcript, tools)
		if err != nil {
			return nil, fmt.Errorf("model step %d: %w", step+1, err)
		}

		result.Steps++
		result.InputTokens += resp.InputTokens
		result.OutputTokens += resp.OutputTokens

		transcript = append(transcript, resp.Message)
		if resp.Message.Content != "" {
			result.Text = resp.Message.Content
		}

		if len(resp.Message.ToolCalls) == 0 {
			result.Messages = transcript
			return result, nil
		}

		for _, call := range resp.Message.ToolCalls {
			content, err := exec(ctx, call)
			if err != nil {
				// Session-fatal: propagate without executing the
				// remaining calls of this turn.
				return nil, err
			}
			transcript = append(transcript, Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: call.ID,
			})
			if r.endTool != "" && call.Name == r.endTool {
				result.EndedExplicitly = true
			}
		}

		if result.EndedExplicitly {
			result.Messages = transcript
			return result, nil
		}

		if r.interject != nil {
			transcript = append(transcript, r.interject()...)
		}
	}

	r.logger.Warn("model-call phase exhausted step budget",
		"model", r.model,
		"steps", r.maxSteps,
	)
	result.Messages = transcript
	return result, nil
}
