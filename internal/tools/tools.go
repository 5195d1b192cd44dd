// Package tools defines the tools available to the agent and the
// registry that exposes them to the model.
package tools

import (
	"context"
	"fmt"
	"sort"
)

// EndOfActions is the tool the model calls to signal it has finished
// all intended work for the turn.
const EndOfActions = "end_of_actions"

// Category is the coarse classification used for strategy tracking.
type Category string

const (
	CategorySearch   Category = "search"
	CategoryRead     Category = "read"
	CategoryAction   Category = "action"
	CategoryAnalysis Category = "analysis"
	CategoryOther    Category = "other"
)

// categories is the fixed classification table. Tools absent from the
// table fall into CategoryOther.
var categories = map[string]Category{
	"search_code":         CategorySearch,
	"read_file":           CategoryRead,
	"read_thread":         CategoryRead,
	"get_issue":           CategoryRead,
	"analyze_tool_usage":  CategoryAnalysis,
	"create_branch":       CategoryAction,
	"create_pull_request": CategoryAction,
	"comment_on_pr":       CategoryAction,
	"comment_on_issue":    CategoryAction,
	"update_issue_status": CategoryAction,
	"set_issue_priority":  CategoryAction,
	"send_slack_message":  CategoryAction,
}

// Classify returns the category for a tool name.
func Classify(name string) Category {
	if c, ok := categories[name]; ok {
		return c
	}
	return CategoryOther
}

// Tool represents a callable tool.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     func(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds available tools.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry creates a registry holding only the session-intrinsic
// tools. Platform toolsets are attached with the Register* methods.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]*Tool)}
	r.registerSessionTools()
	return r
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name, or nil if unknown.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all tools in the wire format the LLM client expects.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, name := range r.Names() {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name with the given arguments.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return tool.Handler(ctx, args)
}

// registerSessionTools adds the tools that belong to the session
// itself rather than any platform.
func (r *Registry) registerSessionTools() {
	r.Register(&Tool{
		Name:        EndOfActions,
		Description: "Call this when you have completed all actions for the current request. Provide a final summary of what was done.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary": map[string]any{
					"type":        "string",
					"description": "A short summary of the work performed",
				},
			},
			"required": []string{"summary"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "Session actions complete.", nil
		},
	})
}

// Argument extraction helpers. The model sends JSON, so numbers arrive
// as float64 and everything optional may be absent.

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func requireString(args map[string]any, key string) (string, error) {
	v := stringArg(args, key)
	if v == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return v, nil
}
