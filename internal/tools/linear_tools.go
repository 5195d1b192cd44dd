package tools

import (
	"context"
	"fmt"

	"github.com/otron-io/otron/internal/platform/linear"
)

// RegisterLinearTools attaches the Linear toolset backed by the given
// client.
func (r *Registry) RegisterLinearTools(client *linear.Client) {
	r.Register(&Tool{
		Name:        "get_issue",
		Description: "Fetch a Linear issue's title, description, state, and priority.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"issue_id": map[string]any{
					"type":        "string",
					"description": "The issue id or identifier (e.g. OTR-42)",
				},
			},
			"required": []string{"issue_id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			id, err := requireString(args, "issue_id")
			if err != nil {
				return "", err
			}
			issue, err := client.Issue(ctx, id)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s: %s\nState: %s | Priority: %d\n\n%s",
				issue.Identifier, issue.Title, issue.State, issue.Priority,
				issue.Description), nil
		},
	})

	r.Register(&Tool{
		Name:        "comment_on_issue",
		Description: "Post a comment on a Linear issue.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"issue_id": map[string]any{
					"type":        "string",
					"description": "The issue id or identifier",
				},
				"body": map[string]any{
					"type":        "string",
					"description": "The comment text (markdown)",
				},
			},
			"required": []string{"issue_id", "body"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			id, err := requireString(args, "issue_id")
			if err != nil {
				return "", err
			}
			body, err := requireString(args, "body")
			if err != nil {
				return "", err
			}
			if err := client.CreateComment(ctx, id, body); err != nil {
				return "", err
			}
			return fmt.Sprintf("Commented on %s.", id), nil
		},
	})

	r.Register(&Tool{
		Name:        "update_issue_status",
		Description: "Move a Linear issue to a different workflow state.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"issue_id": map[string]any{
					"type":        "string",
					"description": "The issue id or identifier",
				},
				"state": map[string]any{
					"type":        "string",
					"description": "The target workflow state name (e.g. In Progress, Done)",
				},
			},
			"required": []string{"issue_id", "state"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			id, err := requireString(args, "issue_id")
			if err != nil {
				return "", err
			}
			state, err := requireString(args, "state")
			if err != nil {
				return "", err
			}
			if err := client.UpdateIssueState(ctx, id, state); err != nil {
				return "", err
			}
			return fmt.Sprintf("Moved %s to %s.", id, state), nil
		},
	})

	r.Register(&Tool{
		Name:        "set_issue_priority",
		Description: "Set a Linear issue's priority (0 none, 1 urgent, 2 high, 3 normal, 4 low).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"issue_id": map[string]any{
					"type":        "string",
					"description": "The issue id or identifier",
				},
				"priority": map[string]any{
					"type":        "integer",
					"description": "Priority from 0 (none) to 4 (low)",
				},
			},
			"required": []string{"issue_id", "priority"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			id, err := requireString(args, "issue_id")
			if err != nil {
				return "", err
			}
			priority := intArg(args, "priority")
			if err := client.SetPriority(ctx, id, priority); err != nil {
				return "", err
			}
			return fmt.Sprintf("Set %s priority to %d.", id, priority), nil
		},
	})
}
