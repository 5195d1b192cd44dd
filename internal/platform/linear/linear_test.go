package linear

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("lin_api_test", nil)
	c.SetBaseURL(srv.URL)
	return c
}

func TestIssue(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "lin_api_test" {
			t.Errorf("Authorization = %q", got)
		}
		var req gqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Variables["id"] != "OTR-42" {
			t.Errorf("id variable = %v", req.Variables["id"])
		}
		w.Write([]byte(`{"data":{"issue":{
			"id":"uuid-1","identifier":"OTR-42","title":"Fix login",
			"description":"details","priority":2,"url":"https://linear.app/x",
			"state":{"name":"In Progress"},"team":{"id":"team-1"}}}}`))
	})

	issue, err := c.Issue(context.Background(), "OTR-42")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issue.Identifier != "OTR-42" || issue.State != "In Progress" || issue.Priority != 2 {
		t.Errorf("Issue = %+v", issue)
	}
}

func TestIssueNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"issue":null}}`))
	})

	if _, err := c.Issue(context.Background(), "OTR-404"); err == nil {
		t.Fatalf("Issue returned nil error for missing issue")
	}
}

func TestCreateComment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req gqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if !strings.Contains(req.Query, "commentCreate") {
			t.Errorf("unexpected query: %s", req.Query)
		}
		if req.Variables["body"] != "looking into it" {
			t.Errorf("body variable = %v", req.Variables["body"])
		}
		w.Write([]byte(`{"data":{"commentCreate":{"success":true}}}`))
	})

	if err := c.CreateComment(context.Background(), "uuid-1", "looking into it"); err != nil {
		t.Fatalf("CreateComment: %v", err)
	}
}

func TestGraphQLErrorSurfaced(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"authentication failed"}]}`))
	})

	err := c.CreateComment(context.Background(), "uuid-1", "hi")
	if err == nil || !strings.Contains(err.Error(), "authentication failed") {
		t.Fatalf("err = %v, want authentication failure", err)
	}
}

func TestSetPriorityRange(t *testing.T) {
	c := NewClient("key", nil)
	if err := c.SetPriority(context.Background(), "uuid-1", 7); err == nil {
		t.Fatalf("SetPriority(7) accepted out-of-range value")
	}
}

func TestUpdateIssueState(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req gqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		switch {
		case strings.Contains(req.Query, "issue(id:"):
			w.Write([]byte(`{"data":{"issue":{"id":"uuid-1","identifier":"OTR-42",
				"state":{"name":"Todo"},"team":{"id":"team-1"}}}}`))
		case strings.Contains(req.Query, "states"):
			w.Write([]byte(`{"data":{"team":{"states":{"nodes":[
				{"id":"st-1","name":"Todo"},{"id":"st-2","name":"Done"}]}}}}`))
		case strings.Contains(req.Query, "issueUpdate"):
			if req.Variables["stateId"] != "st-2" {
				t.Errorf("stateId = %v, want st-2", req.Variables["stateId"])
			}
			w.Write([]byte(`{"data":{"issueUpdate":{"success":true}}}`))
		default:
			t.Fatalf("unexpected query: %s", req.Query)
		}
	})

	if err := c.UpdateIssueState(context.Background(), "OTR-42", "done"); err != nil {
		t.Fatalf("UpdateIssueState: %v", err)
	}
	if calls != 3 {
		t.Errorf("made %d API calls, want 3", calls)
	}
}
