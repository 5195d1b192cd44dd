package main

import (
	"context"
	"sync"
	"testing"

	"github.com/otron-io/otron/internal/agent"
	"github.com/otron-io/otron/internal/platform/slack"
	"github.com/otron-io/otron/internal/session"
)

type bridgeAgent struct {
	mu       sync.Mutex
	requests []agent.Request
	response string
	err      error
}

func (a *bridgeAgent) ProcessRequest(_ context.Context, req agent.Request) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	return a.response, a.err
}

type bridgeStore struct {
	mu       sync.Mutex
	holder   string
	enqueued []session.QueuedMessage
}

func (s *bridgeStore) ClaimHolder(context.Context, string) (string, error) {
	return s.holder, nil
}

func (s *bridgeStore) EnqueueMessage(_ context.Context, _ string, msg session.QueuedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueued = append(s.enqueued, msg)
	return nil
}

type bridgePoster struct {
	mu      sync.Mutex
	posts   []string
	threads []string
}

func (p *bridgePoster) PostMessage(_ context.Context, channel, threadTS, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posts = append(p.posts, text)
	p.threads = append(p.threads, channel+"/"+threadTS)
	return "1.1", nil
}

func TestBridgePostsResponseInThread(t *testing.T) {
	ag := &bridgeAgent{response: "Here you go."}
	poster := &bridgePoster{}
	b := newSlackBridge(ag, &bridgeStore{}, poster, nil)

	b.handle(context.Background(), slack.Event{
		Type: "app_mention", User: "U1", Text: "help me out",
		Channel: "C2", TS: "100.1",
	})

	if len(ag.requests) != 1 {
		t.Fatalf("agent got %d requests, want 1", len(ag.requests))
	}
	req := ag.requests[0]
	if req.Chat == nil || req.Chat.ThreadTS != "100.1" {
		t.Errorf("chat context = %+v, want the message ts as thread", req.Chat)
	}
	if len(poster.posts) != 1 || poster.posts[0] != "Here you go." {
		t.Errorf("posts = %v, want the agent response", poster.posts)
	}
	if poster.threads[0] != "C2/100.1" {
		t.Errorf("posted to %q, want C2/100.1", poster.threads[0])
	}
}

func TestBridgeThreadReplyKeepsThread(t *testing.T) {
	ag := &bridgeAgent{response: "ok"}
	poster := &bridgePoster{}
	b := newSlackBridge(ag, &bridgeStore{}, poster, nil)

	b.handle(context.Background(), slack.Event{
		Type: "message", User: "U1", Text: "follow-up",
		Channel: "C2", TS: "200.9", ThreadTS: "100.1",
	})

	if poster.threads[0] != "C2/100.1" {
		t.Errorf("posted to %q, want the original thread C2/100.1", poster.threads[0])
	}
}

func TestBridgeFoldsBusyContext(t *testing.T) {
	ag := &bridgeAgent{err: &agent.ContextBusyError{ContextID: "slack:C2:100.1"}}
	store := &bridgeStore{holder: "running-1"}
	poster := &bridgePoster{}
	b := newSlackBridge(ag, store, poster, nil)

	b.handle(context.Background(), slack.Event{
		Type: "message", User: "U1", Text: "one more thing",
		Channel: "C2", TS: "300.5", ThreadTS: "100.1",
	})

	if len(store.enqueued) != 1 {
		t.Fatalf("enqueued %d messages, want 1", len(store.enqueued))
	}
	msg := store.enqueued[0]
	if msg.Type != session.MessagePrompted || msg.Content != "one more thing" {
		t.Errorf("queued = %+v, want prompted message with event text", msg)
	}
	if len(poster.posts) != 0 {
		t.Error("busy event should not produce a direct response")
	}
}

func TestBridgeIgnoresEmptyText(t *testing.T) {
	ag := &bridgeAgent{}
	b := newSlackBridge(ag, &bridgeStore{}, &bridgePoster{}, nil)

	b.handle(context.Background(), slack.Event{Type: "message", Channel: "C1", TS: "1.1"})

	if len(ag.requests) != 0 {
		t.Error("empty event was dispatched")
	}
}
