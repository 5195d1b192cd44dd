// Package evaluator judges whether a session attempt actually
// accomplished the user's goal, and produces the retry feedback that
// drives another attempt when it did not. The judgment itself is
// delegated to the model; this package owns the prompt, the response
// parsing, and the conservative fallbacks when the model's verdict is
// unusable.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/otron-io/otron/internal/llm"
)

// CompletionThreshold is the confidence the evaluator must express,
// alongside a positive verdict, for the retry loop to stop early.
const CompletionThreshold = 0.7

// Outcome is what one attempt produced, as input to the evaluation.
type Outcome struct {
	ToolsUsed        []string
	ActionsPerformed []string
	FinalResponse    string
	EndedExplicitly  bool
}

// Evaluation is the structured verdict.
type Evaluation struct {
	IsComplete bool    `json:"isComplete"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Met reports whether the verdict clears the completion gate.
func (e Evaluation) Met() bool {
	return e.IsComplete && e.Confidence >= CompletionThreshold
}

// Evaluator judges goal completion via the model.
type Evaluator struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

// New creates an evaluator using the given client and model.
func New(client llm.Client, model string, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		client: client,
		model:  model,
		logger: logger.With("component", "evaluator"),
	}
}

const evaluationPrompt = `You are a strict completion auditor for an autonomous agent.
Given the user's original request and what the agent did, judge whether the request has actually been fulfilled.

Be skeptical: describing a plan is not doing the work. If the request required actions (creating a PR, commenting, updating an issue), the actions list must show them.

Respond with ONLY a JSON object:
{"isComplete": true|false, "confidence": 0.0-1.0, "reasoning": "one or two sentences"}`

// Evaluate judges an attempt's outcome against the original request.
// The original (pre-retry) messages are used deliberately: retry
// feedback from earlier attempts must not dilute what the user asked
// for. On any model or parse failure a conservative incomplete verdict
// is returned with an error for the caller to log.
func (ev *Evaluator) Evaluate(ctx context.Context, originalMessages []llm.Message, outcome Outcome, attempt int) (Evaluation, error) {
	fallback := Evaluation{
		IsComplete: false,
		Confidence: 0,
		Reasoning:  "evaluation unavailable",
	}

	var request strings.Builder
	for _, m := range originalMessages {
		if m.Role == "user" {
			fmt.Fprintf(&request, "%s\n", m.Content)
		}
	}

	user := fmt.Sprintf(`Original request:
%s
Attempt %d outcome:
- Tools used: %s
- Actions performed: %s
- Ended explicitly: %t

Agent's final response:
%s`,
		request.String(),
		attempt,
		joinOrNone(outcome.ToolsUsed),
		joinOrNone(outcome.ActionsPerformed),
		outcome.EndedExplicitly,
		truncateText(outcome.FinalResponse, 4000))

	resp, err := ev.client.Chat(ctx, ev.model, []llm.Message{
		{Role: "system", Content: evaluationPrompt},
		{Role: "user", Content: user},
	}, nil)
	if err != nil {
		return fallback, fmt.Errorf("goal evaluation call: %w", err)
	}

	eval, err := parseEvaluation(resp.Message.Content)
	if err != nil {
		ev.logger.Warn("unparseable evaluation verdict", "error", err,
			"content", truncateText(resp.Message.Content, 200))
		return fallback, fmt.Errorf("parse evaluation: %w", err)
	}

	ev.logger.Info("goal evaluated",
		"attempt", attempt,
		"complete", eval.IsComplete,
		"confidence", eval.Confidence,
	)
	return eval, nil
}

// parseEvaluation extracts the JSON verdict, tolerating markdown code
// fences around it.
func parseEvaluation(content string) (Evaluation, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json\n")
	content = strings.TrimPrefix(content, "```\n")
	content = strings.TrimSuffix(content, "\n```")
	content = strings.TrimSpace(content)

	// The model sometimes wraps the object in prose; find the braces.
	if start := strings.Index(content, "{"); start > 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			content = content[start : end+1]
		}
	}

	var eval Evaluation
	if err := json.Unmarshal([]byte(content), &eval); err != nil {
		return Evaluation{}, err
	}
	if eval.Confidence < 0 || eval.Confidence > 1 {
		return Evaluation{}, fmt.Errorf("confidence %v out of range", eval.Confidence)
	}
	return eval, nil
}

// RetryFeedback renders an evaluation into the user-role message that
// drives the next attempt. It is phrased as further instruction so the
// model treats it as new input rather than an error report.
func RetryFeedback(eval Evaluation, attempt int) string {
	reasoning := eval.Reasoning
	if reasoning == "" {
		reasoning = "the work described in the request has not been completed"
	}
	return fmt.Sprintf(
		"The task from my original request is not finished yet: %s. "+
			"Please continue and complete the remaining work now, taking concrete actions rather than describing them. "+
			"(attempt %d)",
		strings.TrimSuffix(reasoning, "."), attempt+1)
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
