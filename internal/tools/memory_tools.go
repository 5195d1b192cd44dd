package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/otron-io/otron/internal/memory"
)

// RegisterMemoryTools registers tools backed by the long-term memory
// store.
func (r *Registry) RegisterMemoryTools(mem *memory.Store) {
	r.Register(&Tool{
		Name:        "analyze_tool_usage",
		Description: "Review aggregate tool usage statistics: how often each tool has been used and how often it succeeded. Useful for reflecting on which approaches have worked before.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			stats, err := mem.ToolStats(ctx)
			if err != nil {
				return "", fmt.Errorf("load tool stats: %w", err)
			}
			if len(stats) == 0 {
				return "No tool usage recorded yet.", nil
			}
			var b strings.Builder
			b.WriteString("Tool usage statistics:\n")
			for _, s := range stats {
				fmt.Fprintf(&b, "- %s: %d uses, %d succeeded, %d failed\n",
					s.Tool, s.Uses, s.Successes, s.Failures)
			}
			return strings.TrimSpace(b.String()), nil
		},
	})
}
