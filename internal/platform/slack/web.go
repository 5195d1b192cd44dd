// Package slack provides the agent's Slack access: a Web API client
// for posting and reading messages, and a Socket Mode listener that
// delivers events over a WebSocket so no inbound HTTP exposure is
// required for Slack.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/otron-io/otron/internal/httpkit"
)

const webAPIURL = "https://slack.com/api"

// ThreadMessage is one message in a thread.
type ThreadMessage struct {
	User     string `json:"user"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
	BotID    string `json:"bot_id"`
}

// WebClient talks to the Slack Web API with the bot token.
type WebClient struct {
	botToken string
	http     *http.Client
	baseURL  string
	logger   *slog.Logger
}

// NewWebClient creates a Slack Web API client.
func NewWebClient(botToken string, logger *slog.Logger) *WebClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebClient{
		botToken: botToken,
		http:     httpkit.NewClient(httpkit.WithTimeout(30 * time.Second)),
		baseURL:  webAPIURL,
		logger:   logger.With("component", "slack"),
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *WebClient) SetBaseURL(url string) { c.baseURL = url }

// call executes one Web API method with form-encoded arguments and
// decodes the response into out. Slack signals errors in-band with
// ok:false, which is surfaced as a Go error.
func (c *WebClient) call(ctx context.Context, method string, args url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/"+method, strings.NewReader(args.Encode()))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.botToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("slack %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack %s returned %d: %s",
			method, resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 2048))
	}

	var envelope struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	var buf json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&buf); err != nil {
		return fmt.Errorf("decode slack %s response: %w", method, err)
	}
	if err := json.Unmarshal(buf, &envelope); err != nil {
		return fmt.Errorf("decode slack %s envelope: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("slack %s failed: %s", method, envelope.Error)
	}
	if out != nil {
		if err := json.Unmarshal(buf, out); err != nil {
			return fmt.Errorf("decode slack %s payload: %w", method, err)
		}
	}
	return nil
}

// PostMessage sends a message to a channel, threading it when threadTS
// is non-empty. Returns the message timestamp.
func (c *WebClient) PostMessage(ctx context.Context, channel, threadTS, text string) (string, error) {
	args := url.Values{
		"channel": {channel},
		"text":    {text},
	}
	if threadTS != "" {
		args.Set("thread_ts", threadTS)
	}

	var result struct {
		TS string `json:"ts"`
	}
	if err := c.call(ctx, "chat.postMessage", args, &result); err != nil {
		return "", err
	}
	return result.TS, nil
}

// ThreadReplies fetches the messages in a thread, oldest first.
func (c *WebClient) ThreadReplies(ctx context.Context, channel, threadTS string) ([]ThreadMessage, error) {
	args := url.Values{
		"channel": {channel},
		"ts":      {threadTS},
		"limit":   {"50"},
	}

	var result struct {
		Messages []ThreadMessage `json:"messages"`
	}
	if err := c.call(ctx, "conversations.replies", args, &result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}
