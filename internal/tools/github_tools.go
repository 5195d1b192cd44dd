package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/otron-io/otron/internal/platform/github"
)

// RegisterGitHubTools attaches the GitHub toolset backed by the given
// service.
func (r *Registry) RegisterGitHubTools(svc *github.Service) {
	r.Register(&Tool{
		Name:        "search_code",
		Description: "Search for code in a repository. Returns matching file paths with fragments.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"repository": map[string]any{
					"type":        "string",
					"description": "The repository in owner/repo form",
				},
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
				"filter": map[string]any{
					"type":        "string",
					"description": "Optional search qualifier, e.g. 'path:internal' or 'extension:go'",
				},
			},
			"required": []string{"repository", "query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			repo, err := requireString(args, "repository")
			if err != nil {
				return "", err
			}
			query, err := requireString(args, "query")
			if err != nil {
				return "", err
			}

			matches, err := svc.SearchCode(ctx, repo, query, stringArg(args, "filter"))
			if err != nil {
				return "", err
			}
			if len(matches) == 0 {
				return "No matches found.", nil
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Found %d matches:\n", len(matches))
			for _, m := range matches {
				fmt.Fprintf(&b, "\n%s:%s", m.Repo, m.Path)
				if m.Fragment != "" {
					fmt.Fprintf(&b, "\n%s\n", m.Fragment)
				}
			}
			return b.String(), nil
		},
	})

	r.Register(&Tool{
		Name:        "read_file",
		Description: "Read a file from a repository, optionally a specific line range.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"repository": map[string]any{
					"type":        "string",
					"description": "The repository in owner/repo form",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "The file path within the repository",
				},
				"ref": map[string]any{
					"type":        "string",
					"description": "Branch, tag, or commit (defaults to the default branch)",
				},
				"start_line": map[string]any{
					"type":        "integer",
					"description": "First line to include (1-based)",
				},
				"end_line": map[string]any{
					"type":        "integer",
					"description": "Last line to include (inclusive)",
				},
			},
			"required": []string{"repository", "path"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			repo, err := requireString(args, "repository")
			if err != nil {
				return "", err
			}
			path, err := requireString(args, "path")
			if err != nil {
				return "", err
			}
			return svc.ReadFile(ctx, repo, path, stringArg(args, "ref"),
				intArg(args, "start_line"), intArg(args, "end_line"))
		},
	})

	r.Register(&Tool{
		Name:        "create_branch",
		Description: "Create a new branch in a repository from a base branch.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"repository": map[string]any{
					"type":        "string",
					"description": "The repository in owner/repo form",
				},
				"branch": map[string]any{
					"type":        "string",
					"description": "The name of the branch to create",
				},
				"base": map[string]any{
					"type":        "string",
					"description": "Base branch (defaults to the default branch)",
				},
			},
			"required": []string{"repository", "branch"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			repo, err := requireString(args, "repository")
			if err != nil {
				return "", err
			}
			branch, err := requireString(args, "branch")
			if err != nil {
				return "", err
			}
			if err := svc.CreateBranch(ctx, repo, branch, stringArg(args, "base")); err != nil {
				return "", err
			}
			return fmt.Sprintf("Created branch %s in %s.", branch, repo), nil
		},
	})

	r.Register(&Tool{
		Name:        "create_pull_request",
		Description: "Open a pull request from a head branch into a base branch.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"repository": map[string]any{
					"type":        "string",
					"description": "The repository in owner/repo form",
				},
				"title": map[string]any{
					"type":        "string",
					"description": "Pull request title",
				},
				"body": map[string]any{
					"type":        "string",
					"description": "Pull request description",
				},
				"head": map[string]any{
					"type":        "string",
					"description": "The branch containing the changes",
				},
				"base": map[string]any{
					"type":        "string",
					"description": "The branch to merge into",
				},
			},
			"required": []string{"repository", "title", "head", "base"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			repo, err := requireString(args, "repository")
			if err != nil {
				return "", err
			}
			title, err := requireString(args, "title")
			if err != nil {
				return "", err
			}
			head, err := requireString(args, "head")
			if err != nil {
				return "", err
			}
			base, err := requireString(args, "base")
			if err != nil {
				return "", err
			}

			url, err := svc.CreatePullRequest(ctx, repo, title,
				stringArg(args, "body"), head, base)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Created pull request: %s", url), nil
		},
	})

	r.Register(&Tool{
		Name:        "comment_on_pr",
		Description: "Post a comment on a pull request.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"repository": map[string]any{
					"type":        "string",
					"description": "The repository in owner/repo form",
				},
				"number": map[string]any{
					"type":        "integer",
					"description": "The pull request number",
				},
				"body": map[string]any{
					"type":        "string",
					"description": "The comment text",
				},
			},
			"required": []string{"repository", "number", "body"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			repo, err := requireString(args, "repository")
			if err != nil {
				return "", err
			}
			body, err := requireString(args, "body")
			if err != nil {
				return "", err
			}
			number := intArg(args, "number")
			if number <= 0 {
				return "", fmt.Errorf("missing required parameter %q", "number")
			}
			if err := svc.CommentOnPR(ctx, repo, number, body); err != nil {
				return "", err
			}
			return fmt.Sprintf("Commented on %s#%d.", repo, number), nil
		},
	})
}
