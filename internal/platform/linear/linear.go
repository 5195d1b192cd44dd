// Package linear is a minimal Linear GraphQL client covering what the
// agent needs: reading issues, commenting, and moving issues through
// workflow states. Comments double as the session activity surface.
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/otron-io/otron/internal/httpkit"
)

const apiURL = "https://api.linear.app/graphql"

// Issue is the subset of Linear issue fields the agent uses.
type Issue struct {
	ID          string
	Identifier  string
	Title       string
	Description string
	State       string
	Priority    int
	TeamID      string
	URL         string
}

// Client talks to the Linear GraphQL API.
type Client struct {
	apiKey string
	http   *http.Client
	url    string
	logger *slog.Logger
}

// NewClient creates a Linear client with the given API key.
func NewClient(apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiKey: apiKey,
		http:   httpkit.NewClient(httpkit.WithTimeout(30 * time.Second)),
		url:    apiURL,
		logger: logger.With("component", "linear"),
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *Client) SetBaseURL(url string) { c.url = url }

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

// do executes one GraphQL request and decodes the "data" object into out.
func (c *Client) do(ctx context.Context, query string, variables map[string]any, out any) error {
	payload, err := json.Marshal(gqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("linear request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("linear API returned %d: %s",
			resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 2048))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []gqlError      `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode linear response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("linear API error: %s", envelope.Errors[0].Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode linear data: %w", err)
		}
	}
	return nil
}

// Issue fetches an issue by id or identifier (e.g. "OTR-42").
func (c *Client) Issue(ctx context.Context, id string) (*Issue, error) {
	const query = `query($id: String!) {
		issue(id: $id) {
			id identifier title description priority url
			state { name }
			team { id }
		}
	}`

	var data struct {
		Issue struct {
			ID          string  `json:"id"`
			Identifier  string  `json:"identifier"`
			Title       string  `json:"title"`
			Description string  `json:"description"`
			Priority    float64 `json:"priority"`
			URL         string  `json:"url"`
			State       struct {
				Name string `json:"name"`
			} `json:"state"`
			Team struct {
				ID string `json:"id"`
			} `json:"team"`
		} `json:"issue"`
	}
	if err := c.do(ctx, query, map[string]any{"id": id}, &data); err != nil {
		return nil, err
	}
	if data.Issue.ID == "" {
		return nil, fmt.Errorf("linear issue %s not found", id)
	}

	return &Issue{
		ID:          data.Issue.ID,
		Identifier:  data.Issue.Identifier,
		Title:       data.Issue.Title,
		Description: data.Issue.Description,
		State:       data.Issue.State.Name,
		Priority:    int(data.Issue.Priority),
		TeamID:      data.Issue.Team.ID,
		URL:         data.Issue.URL,
	}, nil
}

// CreateComment posts a comment on an issue.
func (c *Client) CreateComment(ctx context.Context, issueID, body string) error {
	const mutation = `mutation($issueId: String!, $body: String!) {
		commentCreate(input: { issueId: $issueId, body: $body }) { success }
	}`

	var data struct {
		CommentCreate struct {
			Success bool `json:"success"`
		} `json:"commentCreate"`
	}
	err := c.do(ctx, mutation, map[string]any{"issueId": issueID, "body": body}, &data)
	if err != nil {
		return err
	}
	if !data.CommentCreate.Success {
		return fmt.Errorf("linear comment on %s was rejected", issueID)
	}
	return nil
}

// UpdateIssueState moves an issue to the workflow state with the given
// name (matched case-insensitively within the issue's team).
func (c *Client) UpdateIssueState(ctx context.Context, issueID, stateName string) error {
	issue, err := c.Issue(ctx, issueID)
	if err != nil {
		return err
	}

	stateID, err := c.findStateID(ctx, issue.TeamID, stateName)
	if err != nil {
		return err
	}

	const mutation = `mutation($id: String!, $stateId: String!) {
		issueUpdate(id: $id, input: { stateId: $stateId }) { success }
	}`

	var data struct {
		IssueUpdate struct {
			Success bool `json:"success"`
		} `json:"issueUpdate"`
	}
	err = c.do(ctx, mutation, map[string]any{"id": issue.ID, "stateId": stateID}, &data)
	if err != nil {
		return err
	}
	if !data.IssueUpdate.Success {
		return fmt.Errorf("linear state update on %s was rejected", issueID)
	}
	return nil
}

// SetPriority sets an issue's priority (0 none, 1 urgent .. 4 low).
func (c *Client) SetPriority(ctx context.Context, issueID string, priority int) error {
	if priority < 0 || priority > 4 {
		return fmt.Errorf("linear priority %d out of range 0-4", priority)
	}

	const mutation = `mutation($id: String!, $priority: Int!) {
		issueUpdate(id: $id, input: { priority: $priority }) { success }
	}`

	var data struct {
		IssueUpdate struct {
			Success bool `json:"success"`
		} `json:"issueUpdate"`
	}
	err := c.do(ctx, mutation, map[string]any{"id": issueID, "priority": priority}, &data)
	if err != nil {
		return err
	}
	if !data.IssueUpdate.Success {
		return fmt.Errorf("linear priority update on %s was rejected", issueID)
	}
	return nil
}

func (c *Client) findStateID(ctx context.Context, teamID, stateName string) (string, error) {
	const query = `query($teamId: String!) {
		team(id: $teamId) {
			states { nodes { id name } }
		}
	}`

	var data struct {
		Team struct {
			States struct {
				Nodes []struct {
					ID   string `json:"id"`
					Name string `json:"name"`
				} `json:"nodes"`
			} `json:"states"`
		} `json:"team"`
	}
	if err := c.do(ctx, query, map[string]any{"teamId": teamID}, &data); err != nil {
		return "", err
	}

	for _, st := range data.Team.States.Nodes {
		if strings.EqualFold(st.Name, stateName) {
			return st.ID, nil
		}
	}
	return "", fmt.Errorf("linear workflow state %q not found for team %s", stateName, teamID)
}
