package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	gogithub "github.com/google/go-github/v69/github"
)

// Service exposes the repository operations the agent's GitHub tools
// need. Every call authenticates as the configured App installation.
type Service struct {
	auth           *AppAuth
	installationID int64
	logger         *slog.Logger
}

// NewService creates a GitHub service bound to one installation.
func NewService(auth *AppAuth, installationID int64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		auth:           auth,
		installationID: installationID,
		logger:         logger.With("component", "github"),
	}
}

func (s *Service) client(ctx context.Context) (*gogithub.Client, error) {
	return s.auth.InstallationClient(ctx, s.installationID)
}

// splitRepo splits an "owner/repo" string into its two parts.
func splitRepo(repo string) (string, string, error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo %q: expected owner/repo", repo)
	}
	return parts[0], parts[1], nil
}

// checkRateLimit logs a warning when remaining API calls run low.
func (s *Service) checkRateLimit(resp *gogithub.Response) {
	if resp == nil {
		return
	}
	if resp.Rate.Remaining < 100 {
		s.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time)
	}
}

// CodeMatch is one code search hit.
type CodeMatch struct {
	Repo     string
	Path     string
	Fragment string
	URL      string
}

// SearchCode searches code in a repository. The filter narrows by
// path or extension when non-empty (passed through as a search
// qualifier).
func (s *Service) SearchCode(ctx context.Context, repo, query, filter string) ([]CodeMatch, error) {
	client, err := s.client(ctx)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf("%s repo:%s", query, repo)
	if filter != "" {
		q += " " + filter
	}

	result, resp, err := client.Search.Code(ctx, q, &gogithub.SearchOptions{
		ListOptions: gogithub.ListOptions{PerPage: 20},
	})
	if err != nil {
		return nil, fmt.Errorf("github code search: %w", err)
	}
	s.checkRateLimit(resp)

	matches := make([]CodeMatch, 0, len(result.CodeResults))
	for _, cr := range result.CodeResults {
		match := CodeMatch{
			Repo: cr.GetRepository().GetFullName(),
			Path: cr.GetPath(),
			URL:  cr.GetHTMLURL(),
		}
		for _, tm := range cr.TextMatches {
			if tm.Fragment != nil {
				match.Fragment = *tm.Fragment
				break
			}
		}
		matches = append(matches, match)
	}
	return matches, nil
}

// ReadFile returns the contents of a file at a ref (empty ref means
// the default branch), optionally sliced to a 1-based line range.
func (s *Service) ReadFile(ctx context.Context, repo, path, ref string, startLine, endLine int) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}

	client, err := s.client(ctx)
	if err != nil {
		return "", err
	}

	var opts *gogithub.RepositoryContentGetOptions
	if ref != "" {
		opts = &gogithub.RepositoryContentGetOptions{Ref: ref}
	}

	content, _, resp, err := client.Repositories.GetContents(ctx, owner, name, path, opts)
	if err != nil {
		return "", fmt.Errorf("github read %s: %w", path, err)
	}
	s.checkRateLimit(resp)
	if content == nil {
		return "", fmt.Errorf("github read %s: path is a directory", path)
	}

	text, err := content.GetContent()
	if err != nil {
		// Large files come back with empty inline content; fall back
		// to decoding whatever is present.
		if content.Content != nil {
			raw, decErr := base64.StdEncoding.DecodeString(*content.Content)
			if decErr != nil {
				return "", fmt.Errorf("github decode %s: %w", path, decErr)
			}
			text = string(raw)
		} else {
			return "", fmt.Errorf("github read %s: %w", path, err)
		}
	}

	if startLine <= 0 && endLine <= 0 {
		return text, nil
	}
	return sliceLines(text, startLine, endLine), nil
}

// sliceLines returns the 1-based inclusive line range [start, end].
// Zero bounds default to the start or end of the file.
func sliceLines(text string, start, end int) string {
	lines := strings.Split(text, "\n")
	if start <= 0 {
		start = 1
	}
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) || start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

// CreateBranch creates a branch from the head of a base branch (empty
// base means the repository default).
func (s *Service) CreateBranch(ctx context.Context, repo, branch, base string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}

	client, err := s.client(ctx)
	if err != nil {
		return err
	}

	if base == "" {
		repoInfo, resp, err := client.Repositories.Get(ctx, owner, name)
		if err != nil {
			return fmt.Errorf("github get repo %s: %w", repo, err)
		}
		s.checkRateLimit(resp)
		base = repoInfo.GetDefaultBranch()
	}

	baseRef, resp, err := client.Git.GetRef(ctx, owner, name, "refs/heads/"+base)
	if err != nil {
		return fmt.Errorf("github get ref %s: %w", base, err)
	}
	s.checkRateLimit(resp)

	newRef := &gogithub.Reference{
		Ref:    gogithub.Ptr("refs/heads/" + branch),
		Object: &gogithub.GitObject{SHA: baseRef.Object.SHA},
	}
	if _, resp, err = client.Git.CreateRef(ctx, owner, name, newRef); err != nil {
		return fmt.Errorf("github create branch %s: %w", branch, err)
	}
	s.checkRateLimit(resp)
	return nil
}

// CreatePullRequest opens a PR and returns its HTML URL.
func (s *Service) CreatePullRequest(ctx context.Context, repo, title, body, head, base string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}

	client, err := s.client(ctx)
	if err != nil {
		return "", err
	}

	pr, resp, err := client.PullRequests.Create(ctx, owner, name, &gogithub.NewPullRequest{
		Title: &title,
		Body:  &body,
		Head:  &head,
		Base:  &base,
	})
	if err != nil {
		return "", fmt.Errorf("github create PR: %w", err)
	}
	s.checkRateLimit(resp)
	return pr.GetHTMLURL(), nil
}

// CommentOnPR posts an issue-style comment on a pull request.
func (s *Service) CommentOnPR(ctx context.Context, repo string, number int, body string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}

	client, err := s.client(ctx)
	if err != nil {
		return err
	}

	_, resp, err := client.Issues.CreateComment(ctx, owner, name, number,
		&gogithub.IssueComment{Body: &body})
	if err != nil {
		return fmt.Errorf("github comment on PR #%d: %w", number, err)
	}
	s.checkRateLimit(resp)
	return nil
}
