package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/otron-io/otron/internal/platform/slack"
)

// RegisterSlackTools attaches the Slack toolset backed by the given
// Web API client.
func (r *Registry) RegisterSlackTools(client *slack.WebClient) {
	r.Register(&Tool{
		Name:        "send_slack_message",
		Description: "Send a message to a Slack channel, optionally threaded.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"channel": map[string]any{
					"type":        "string",
					"description": "The channel id (e.g. C0123456789)",
				},
				"thread_ts": map[string]any{
					"type":        "string",
					"description": "Thread timestamp to reply in, if any",
				},
				"text": map[string]any{
					"type":        "string",
					"description": "The message text",
				},
			},
			"required": []string{"channel", "text"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			channel, err := requireString(args, "channel")
			if err != nil {
				return "", err
			}
			text, err := requireString(args, "text")
			if err != nil {
				return "", err
			}
			ts, err := client.PostMessage(ctx, channel, stringArg(args, "thread_ts"), text)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Message sent (ts %s).", ts), nil
		},
	})

	r.Register(&Tool{
		Name:        "read_thread",
		Description: "Read the messages in a Slack thread.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"channel": map[string]any{
					"type":        "string",
					"description": "The channel id",
				},
				"thread_ts": map[string]any{
					"type":        "string",
					"description": "The thread's root timestamp",
				},
			},
			"required": []string{"channel", "thread_ts"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			channel, err := requireString(args, "channel")
			if err != nil {
				return "", err
			}
			threadTS, err := requireString(args, "thread_ts")
			if err != nil {
				return "", err
			}

			msgs, err := client.ThreadReplies(ctx, channel, threadTS)
			if err != nil {
				return "", err
			}
			if len(msgs) == 0 {
				return "Thread is empty.", nil
			}

			var b strings.Builder
			for _, m := range msgs {
				who := m.User
				if who == "" {
					who = m.BotID
				}
				fmt.Fprintf(&b, "[%s] %s: %s\n", m.TS, who, m.Text)
			}
			return b.String(), nil
		},
	})
}
