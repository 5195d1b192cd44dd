package slack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestWebClient(t *testing.T, handler http.HandlerFunc) *WebClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewWebClient("xoxb-test", nil)
	c.SetBaseURL(srv.URL)
	return c
}

func TestPostMessage(t *testing.T) {
	c := newTestWebClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer xoxb-test" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("channel") != "C1" || r.PostForm.Get("thread_ts") != "T1" {
			t.Errorf("form = %v", r.PostForm)
		}
		w.Write([]byte(`{"ok":true,"ts":"1724900000.000100"}`))
	})

	ts, err := c.PostMessage(context.Background(), "C1", "T1", "on it")
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if ts != "1724900000.000100" {
		t.Errorf("ts = %q", ts)
	}
}

func TestPostMessageWithoutThread(t *testing.T) {
	c := newTestWebClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if _, set := r.PostForm["thread_ts"]; set {
			t.Errorf("thread_ts sent for unthreaded message")
		}
		w.Write([]byte(`{"ok":true,"ts":"1.2"}`))
	})

	if _, err := c.PostMessage(context.Background(), "C1", "", "hello"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
}

func TestInBandErrorSurfaced(t *testing.T) {
	c := newTestWebClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	})

	_, err := c.PostMessage(context.Background(), "C404", "", "hello")
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("err = %v, want channel_not_found", err)
	}
}

func TestThreadReplies(t *testing.T) {
	c := newTestWebClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations.replies" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"ok":true,"messages":[
			{"user":"U1","text":"can you look at OTR-12?","ts":"1.0"},
			{"user":"U2","text":"+1","ts":"1.1","thread_ts":"1.0"}]}`))
	})

	msgs, err := c.ThreadReplies(context.Background(), "C1", "1.0")
	if err != nil {
		t.Fatalf("ThreadReplies: %v", err)
	}
	if len(msgs) != 2 || msgs[0].User != "U1" || msgs[1].Text != "+1" {
		t.Errorf("messages = %+v", msgs)
	}
}
