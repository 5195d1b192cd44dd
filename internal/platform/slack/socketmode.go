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

	"github.com/gorilla/websocket"

	"github.com/otron-io/otron/internal/httpkit"
)

// Event is one events-API event delivered over Socket Mode.
type Event struct {
	Type     string `json:"type"`
	User     string `json:"user"`
	Text     string `json:"text"`
	Channel  string `json:"channel"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
	BotID    string `json:"bot_id"`
}

// envelope is the Socket Mode wire frame.
type envelope struct {
	EnvelopeID string          `json:"envelope_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Reason     string          `json:"reason"`
}

// SocketMode maintains a Socket Mode connection and delivers events on
// a channel. Disconnects (including Slack-initiated refresh requests)
// trigger a reconnect with a fresh WebSocket URL.
type SocketMode struct {
	appToken string
	http     *http.Client
	openURL  string
	events   chan Event
	logger   *slog.Logger
}

// NewSocketMode creates a Socket Mode listener using the app-level token.
func NewSocketMode(appToken string, logger *slog.Logger) *SocketMode {
	if logger == nil {
		logger = slog.Default()
	}
	return &SocketMode{
		appToken: appToken,
		http:     httpkit.NewClient(httpkit.WithTimeout(30 * time.Second)),
		openURL:  webAPIURL + "/apps.connections.open",
		events:   make(chan Event, 100),
		logger:   logger.With("component", "slack-socket"),
	}
}

// SetOpenURL overrides the connection-open endpoint. Used by tests.
func (s *SocketMode) SetOpenURL(url string) { s.openURL = url }

// Events returns the channel on which received events are delivered.
func (s *SocketMode) Events() <-chan Event {
	return s.events
}

// Run connects and processes envelopes until ctx is cancelled,
// reconnecting after transient failures with a short backoff.
func (s *SocketMode) Run(ctx context.Context) error {
	for {
		if err := s.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("socket mode connection lost, reconnecting", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
}

func (s *SocketMode) runOnce(ctx context.Context) error {
	wsURL, err := s.openConnection(ctx)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial socket mode: %w", err)
	}
	defer conn.Close()

	// Close the socket when ctx is cancelled so the blocking read
	// below returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	s.logger.Info("socket mode connected")

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read envelope: %w", err)
		}

		// Acknowledge before processing — Slack redelivers
		// unacknowledged envelopes, and processing can be slow.
		if env.EnvelopeID != "" {
			ack := map[string]string{"envelope_id": env.EnvelopeID}
			if err := conn.WriteJSON(ack); err != nil {
				return fmt.Errorf("ack envelope: %w", err)
			}
		}

		switch env.Type {
		case "events_api":
			s.dispatch(env.Payload)
		case "disconnect":
			s.logger.Info("socket mode disconnect requested", "reason", env.Reason)
			return nil
		case "hello":
			// Connection preamble, nothing to do.
		default:
			s.logger.Debug("unhandled socket mode envelope", "type", env.Type)
		}
	}
}

func (s *SocketMode) dispatch(payload json.RawMessage) {
	var body struct {
		Event Event `json:"event"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		s.logger.Warn("malformed events_api payload", "error", err)
		return
	}
	// Ignore the agent's own messages to avoid feedback loops.
	if body.Event.BotID != "" {
		return
	}

	select {
	case s.events <- body.Event:
	default:
		s.logger.Warn("event channel full, dropping event", "type", body.Event.Type)
	}
}

// openConnection calls apps.connections.open and returns the WebSocket
// URL for this connection.
func (s *SocketMode) openConnection(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.openURL,
		strings.NewReader(url.Values{}.Encode()))
	if err != nil {
		return "", fmt.Errorf("create open request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.appToken)

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("apps.connections.open: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
		URL   string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode connections.open response: %w", err)
	}
	if !body.OK {
		return "", fmt.Errorf("apps.connections.open failed: %s", body.Error)
	}
	return body.URL, nil
}
