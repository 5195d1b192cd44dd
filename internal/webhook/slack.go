package webhook

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/otron-io/otron/internal/agent"
	"github.com/otron-io/otron/internal/llm"
	"github.com/otron-io/otron/internal/session"
)

const maxWebhookBody = 1 << 20

// slackEventPayload is the Events API envelope.
type slackEventPayload struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Event     struct {
		Type     string `json:"type"`
		User     string `json:"user"`
		Text     string `json:"text"`
		Channel  string `json:"channel"`
		TS       string `json:"ts"`
		ThreadTS string `json:"thread_ts"`
		BotID    string `json:"bot_id"`
	} `json:"event"`
}

func (s *Server) handleSlackWebhook(w http.ResponseWriter, r *http.Request) {
	if s.secrets.SlackSigning == "" {
		s.writeError(w, http.StatusServiceUnavailable, "slack webhook not configured")
		return
	}
	body, err := readBody(r, maxWebhookBody)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	err = verifySlackSignature(
		s.secrets.SlackSigning,
		r.Header.Get("X-Slack-Signature"),
		r.Header.Get("X-Slack-Request-Timestamp"),
		body,
		s.now(),
	)
	if err != nil {
		s.logger.Warn("slack signature rejected", "error", err)
		s.writeError(w, http.StatusUnauthorized, "signature verification failed")
		return
	}

	var payload slackEventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	switch payload.Type {
	case "url_verification":
		s.writeJSON(w, http.StatusOK, map[string]string{"challenge": payload.Challenge})
		return
	case "event_callback":
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	ev := payload.Event
	if ev.BotID != "" || ev.Text == "" {
		// Our own messages and empty events are acked and dropped.
		w.WriteHeader(http.StatusOK)
		return
	}
	if ev.Type != "app_mention" && ev.Type != "message" {
		w.WriteHeader(http.StatusOK)
		return
	}

	threadTS := ev.ThreadTS
	if threadTS == "" {
		threadTS = ev.TS
	}
	channel := ev.Channel

	req := agent.Request{
		Messages: []llm.Message{{Role: "user", Content: ev.Text}},
		Chat: &session.ChatContext{
			ChannelID: ev.Channel,
			ThreadTS:  threadTS,
			UserID:    ev.User,
		},
		Metadata: session.Metadata{
			ChannelID: ev.Channel,
			ThreadTS:  threadTS,
			UserID:    ev.User,
		},
	}
	s.dispatch(req, func(ctx context.Context, text string) {
		if s.slack == nil {
			return
		}
		if _, err := s.slack.PostMessage(ctx, channel, threadTS, text); err != nil {
			s.logger.Warn("slack response delivery failed",
				"channel", channel, "error", err)
		}
	})

	w.WriteHeader(http.StatusOK)
}
