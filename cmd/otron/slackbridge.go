package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/otron-io/otron/internal/agent"
	"github.com/otron-io/otron/internal/llm"
	"github.com/otron-io/otron/internal/platform/slack"
	"github.com/otron-io/otron/internal/session"
)

// slackSessionStore is the store slice the bridge needs to fold a busy
// context's message into the running session.
type slackSessionStore interface {
	ClaimHolder(ctx context.Context, contextID string) (string, error)
	EnqueueMessage(ctx context.Context, id string, msg session.QueuedMessage) error
}

// slackAgent runs one session per event.
type slackAgent interface {
	ProcessRequest(ctx context.Context, req agent.Request) (string, error)
}

// slackPoster posts the agent's response back into the thread.
type slackPoster interface {
	PostMessage(ctx context.Context, channel, threadTS, text string) (string, error)
}

// slackHandleTimeout bounds one event end to end (agent session plus
// response delivery).
const slackHandleTimeout = 10 * time.Minute

// slackBridge consumes Socket Mode events and routes them through the
// agent, posting responses back into the originating thread.
type slackBridge struct {
	agent  slackAgent
	store  slackSessionStore
	poster slackPoster
	logger *slog.Logger
}

func newSlackBridge(ag slackAgent, store slackSessionStore, poster slackPoster, logger *slog.Logger) *slackBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &slackBridge{
		agent:  ag,
		store:  store,
		poster: poster,
		logger: logger.With("component", "slackbridge"),
	}
}

// consume processes events until the channel closes or the context is
// cancelled. Each event runs in its own goroutine so a long session
// does not stall the stream.
func (b *slackBridge) consume(ctx context.Context, events <-chan slack.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			go b.handle(ctx, ev)
		}
	}
}

func (b *slackBridge) handle(ctx context.Context, ev slack.Event) {
	if ev.Text == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, slackHandleTimeout)
	defer cancel()

	threadTS := ev.ThreadTS
	if threadTS == "" {
		threadTS = ev.TS
	}

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

	text, err := b.agent.ProcessRequest(ctx, req)
	if err != nil {
		var busy *agent.ContextBusyError
		if errors.As(err, &busy) {
			b.foldIntoRunning(ctx, busy.ContextID, ev)
			return
		}
		b.logger.Error("slack event session failed", "channel", ev.Channel, "error", err)
		return
	}
	if text == "" || b.poster == nil {
		return
	}
	if _, err := b.poster.PostMessage(ctx, ev.Channel, threadTS, text); err != nil {
		b.logger.Warn("slack response delivery failed", "channel", ev.Channel, "error", err)
	}
}

// foldIntoRunning queues the message onto the session holding the
// thread's context claim.
func (b *slackBridge) foldIntoRunning(ctx context.Context, contextID string, ev slack.Event) {
	holder, err := b.store.ClaimHolder(ctx, contextID)
	if err != nil || holder == "" {
		b.logger.Warn("busy context has no resolvable holder", "context", contextID, "error", err)
		return
	}
	err = b.store.EnqueueMessage(ctx, holder, session.QueuedMessage{
		Type:    session.MessagePrompted,
		Content: ev.Text,
		UserID:  ev.User,
	})
	if err != nil {
		b.logger.Warn("queueing into running session failed", "session", holder, "error", err)
		return
	}
	b.logger.Info("folded slack message into running session", "context", contextID, "session", holder)
}
