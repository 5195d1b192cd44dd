package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/otron-io/otron/internal/session"
)

// fakeRedis is an in-memory implementation of the Redis commands the
// store issues. All connections from the pool share one instance.
type fakeRedis struct {
	mu      sync.Mutex
	strings map[string][]byte
	sets    map[string]map[string]struct{}
	lists   map[string][][]byte
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		strings: make(map[string][]byte),
		sets:    make(map[string]map[string]struct{}),
		lists:   make(map[string][][]byte),
	}
}

func (f *fakeRedis) pool() *redis.Pool {
	return &redis.Pool{
		Dial: func() (redis.Conn, error) {
			return &fakeConn{backend: f}, nil
		},
	}
}

func toBytes(v any) []byte {
	switch x := v.(type) {
	case []byte:
		return x
	case string:
		return []byte(x)
	default:
		return []byte(fmt.Sprint(x))
	}
}

func toInt(v any) int {
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case string:
		n, _ := strconv.Atoi(x)
		return n
	default:
		return 0
	}
}

func (f *fakeRedis) exec(cmd string, args []any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch strings.ToUpper(cmd) {
	case "PING":
		return "PONG", nil

	case "SET":
		key := string(toBytes(args[0]))
		val := toBytes(args[1])
		nx := false
		for _, a := range args[2:] {
			if s, ok := a.(string); ok && strings.EqualFold(s, "NX") {
				nx = true
			}
		}
		if nx {
			if _, exists := f.strings[key]; exists {
				return nil, nil
			}
		}
		f.strings[key] = val
		return "OK", nil

	case "GET":
		key := string(toBytes(args[0]))
		val, ok := f.strings[key]
		if !ok {
			return nil, nil
		}
		return val, nil

	case "DEL":
		key := string(toBytes(args[0]))
		var n int64
		if _, ok := f.strings[key]; ok {
			delete(f.strings, key)
			n++
		}
		if _, ok := f.lists[key]; ok {
			delete(f.lists, key)
			n++
		}
		return n, nil

	case "SADD":
		key := string(toBytes(args[0]))
		if f.sets[key] == nil {
			f.sets[key] = make(map[string]struct{})
		}
		f.sets[key][string(toBytes(args[1]))] = struct{}{}
		return int64(1), nil

	case "SREM":
		key := string(toBytes(args[0]))
		delete(f.sets[key], string(toBytes(args[1])))
		return int64(1), nil

	case "SMEMBERS":
		key := string(toBytes(args[0]))
		out := []any{}
		for member := range f.sets[key] {
			out = append(out, []byte(member))
		}
		return out, nil

	case "RPUSH":
		key := string(toBytes(args[0]))
		f.lists[key] = append(f.lists[key], toBytes(args[1]))
		return int64(len(f.lists[key])), nil

	case "LPUSH":
		key := string(toBytes(args[0]))
		f.lists[key] = append([][]byte{toBytes(args[1])}, f.lists[key]...)
		return int64(len(f.lists[key])), nil

	case "LRANGE":
		key := string(toBytes(args[0]))
		list := f.lists[key]
		start, stop := toInt(args[1]), toInt(args[2])
		if stop < 0 {
			stop = len(list) + stop
		}
		if start < 0 {
			start = 0
		}
		if stop >= len(list) {
			stop = len(list) - 1
		}
		out := []any{}
		for i := start; i <= stop && i < len(list); i++ {
			out = append(out, list[i])
		}
		return out, nil

	case "PEXPIRE":
		return int64(1), nil

	default:
		return nil, fmt.Errorf("fake redis: unsupported command %s", cmd)
	}
}

type fakeConn struct {
	backend *fakeRedis
	queued  [][]any
	multi   bool
}

func (c *fakeConn) Close() error { return nil }
func (c *fakeConn) Err() error   { return nil }
func (c *fakeConn) Flush() error { return nil }

func (c *fakeConn) Receive() (any, error) {
	return nil, fmt.Errorf("fake redis: Receive not supported")
}

func (c *fakeConn) Send(cmd string, args ...any) error {
	if strings.EqualFold(cmd, "MULTI") {
		c.multi = true
		c.queued = nil
		return nil
	}
	c.queued = append(c.queued, append([]any{cmd}, args...))
	return nil
}

func (c *fakeConn) Do(cmd string, args ...any) (any, error) {
	if strings.EqualFold(cmd, "EXEC") {
		replies := make([]any, 0, len(c.queued))
		for _, q := range c.queued {
			reply, err := c.backend.exec(q[0].(string), q[1:])
			if err != nil {
				return nil, err
			}
			replies = append(replies, reply)
		}
		c.queued = nil
		c.multi = false
		return replies, nil
	}
	return c.backend.exec(cmd, args)
}

func newTestStore(t *testing.T) (*Redis, *fakeRedis) {
	t.Helper()
	fake := newFakeRedis()
	s := NewWithPool(fake.pool(), time.Hour, nil)
	t.Cleanup(func() { s.Close() })
	return s, fake
}

func newTestSession(id, contextID string) *session.Session {
	return &session.Session{
		ID:        id,
		ContextID: contextID,
		StartTime: time.Now().UTC().Add(-time.Minute),
		Platform:  session.PlatformLinear,
		Status:    session.StatusInitializing,
		Metadata:  session.Metadata{IssueID: contextID},
	}
}

func TestActiveSessionRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateActive(ctx, newTestSession("sess-1", "OTR-42")); err != nil {
		t.Fatalf("CreateActive: %v", err)
	}

	got, err := s.GetActive(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if got == nil || got.ContextID != "OTR-42" {
		t.Fatalf("GetActive = %+v, want context OTR-42", got)
	}

	ids, err := s.ListActiveIDs(ctx)
	if err != nil {
		t.Fatalf("ListActiveIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "sess-1" {
		t.Fatalf("ListActiveIDs = %v", ids)
	}
}

func TestGetActiveMissing(t *testing.T) {
	s, _ := newTestStore(t)

	got, err := s.GetActive(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if got != nil {
		t.Fatalf("GetActive = %+v, want nil", got)
	}
}

func TestUpdateActive(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateActive(ctx, newTestSession("sess-1", "OTR-42")); err != nil {
		t.Fatalf("CreateActive: %v", err)
	}

	status := session.StatusActing
	tool := "create_pull_request"
	err := s.UpdateActive(ctx, "sess-1", session.Update{
		Status:      &status,
		CurrentTool: &tool,
		ToolsUsed:   []string{"search_code", "create_pull_request"},
	})
	if err != nil {
		t.Fatalf("UpdateActive: %v", err)
	}

	got, err := s.GetActive(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if got.Status != session.StatusActing {
		t.Errorf("Status = %s, want %s", got.Status, session.StatusActing)
	}
	if got.CurrentTool != "create_pull_request" {
		t.Errorf("CurrentTool = %s", got.CurrentTool)
	}
	if len(got.ToolsUsed) != 2 {
		t.Errorf("ToolsUsed = %v", got.ToolsUsed)
	}

	// Updating an unknown session is a no-op, not an error.
	if err := s.UpdateActive(ctx, "gone", session.Update{Status: &status}); err != nil {
		t.Fatalf("UpdateActive missing: %v", err)
	}
}

func TestUpdateActiveActionLogStaysOrdered(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateActive(ctx, newTestSession("sess-1", "OTR-42")); err != nil {
		t.Fatalf("CreateActive: %v", err)
	}

	// The supervisor persists the full cumulative action list after
	// every action, so repeated updates must replace, not grow.
	actions := []string{
		"Created branch: fix-login",
		"Opened pull request: #12",
		"Commented on issue: OTR-42",
	}
	for i := range actions {
		err := s.UpdateActive(ctx, "sess-1", session.Update{
			ActionsPerformed: actions[:i+1],
		})
		if err != nil {
			t.Fatalf("UpdateActive %d: %v", i, err)
		}
	}

	got, err := s.GetActive(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if len(got.ActionsPerformed) != len(actions) {
		t.Fatalf("ActionsPerformed = %v, want %d entries", got.ActionsPerformed, len(actions))
	}
	for i, want := range actions {
		if got.ActionsPerformed[i] != want {
			t.Errorf("ActionsPerformed[%d] = %q, want %q", i, got.ActionsPerformed[i], want)
		}
	}
}

func TestCompleteAndArchive(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession("sess-1", "OTR-42")
	if err := s.CreateActive(ctx, sess); err != nil {
		t.Fatalf("CreateActive: %v", err)
	}
	if ok, err := s.TryClaimContext(ctx, "OTR-42", "sess-1"); err != nil || !ok {
		t.Fatalf("TryClaimContext = %v, %v", ok, err)
	}
	if err := s.RequestCancellation(ctx, "sess-1"); err != nil {
		t.Fatalf("RequestCancellation: %v", err)
	}

	completed, err := s.CompleteAndArchive(ctx, "sess-1", session.FinalCancelled, "user requested stop")
	if err != nil {
		t.Fatalf("CompleteAndArchive: %v", err)
	}
	if completed.FinalStatus != session.FinalCancelled {
		t.Errorf("FinalStatus = %s", completed.FinalStatus)
	}
	if completed.DurationMS <= 0 {
		t.Errorf("DurationMS = %d, want > 0", completed.DurationMS)
	}

	// Active side is fully torn down.
	if got, _ := s.GetActive(ctx, "sess-1"); got != nil {
		t.Errorf("active record survived archive")
	}
	if ids, _ := s.ListActiveIDs(ctx); len(ids) != 0 {
		t.Errorf("active index = %v, want empty", ids)
	}
	if cancelled, _ := s.IsCancelled(ctx, "sess-1"); cancelled {
		t.Errorf("cancellation flag survived archive")
	}
	if holder, _ := s.ClaimHolder(ctx, "OTR-42"); holder != "" {
		t.Errorf("context claim survived archive: %q", holder)
	}

	// Archive side is permanent and indexed.
	got, err := s.GetCompleted(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetCompleted: %v", err)
	}
	if got == nil || got.Error != "user requested stop" {
		t.Fatalf("GetCompleted = %+v", got)
	}

	fake.mu.Lock()
	_, archived := fake.strings[keyArchivePrefix+"sess-1"]
	fake.mu.Unlock()
	if !archived {
		t.Errorf("archive record missing")
	}
}

func TestCompleteAndArchiveMissing(t *testing.T) {
	s, _ := newTestStore(t)

	completed, err := s.CompleteAndArchive(context.Background(), "nope", session.FinalCompleted, "")
	if err != nil {
		t.Fatalf("CompleteAndArchive: %v", err)
	}
	if completed != nil {
		t.Fatalf("CompleteAndArchive = %+v, want nil", completed)
	}
}

func TestListCompletedNewestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"sess-old", "sess-new"} {
		if err := s.CreateActive(ctx, newTestSession(id, "ctx-"+id)); err != nil {
			t.Fatalf("CreateActive %s: %v", id, err)
		}
		if _, err := s.CompleteAndArchive(ctx, id, session.FinalCompleted, ""); err != nil {
			t.Fatalf("CompleteAndArchive %s: %v", id, err)
		}
	}

	page, err := s.ListCompleted(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ListCompleted: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("ListCompleted returned %d records", len(page))
	}
	if page[0].ID != "sess-new" || page[1].ID != "sess-old" {
		t.Errorf("order = [%s %s], want newest first", page[0].ID, page[1].ID)
	}

	single, err := s.ListCompleted(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ListCompleted page 2: %v", err)
	}
	if len(single) != 1 || single[0].ID != "sess-old" {
		t.Errorf("page 2 = %v", single)
	}
}

func TestCancellationFlag(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	cancelled, err := s.IsCancelled(ctx, "sess-1")
	if err != nil {
		t.Fatalf("IsCancelled: %v", err)
	}
	if cancelled {
		t.Fatalf("IsCancelled = true before request")
	}

	if err := s.RequestCancellation(ctx, "sess-1"); err != nil {
		t.Fatalf("RequestCancellation: %v", err)
	}
	cancelled, err = s.IsCancelled(ctx, "sess-1")
	if err != nil {
		t.Fatalf("IsCancelled: %v", err)
	}
	if !cancelled {
		t.Fatalf("IsCancelled = false after request")
	}
}

func TestMessageQueueDrain(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, content := range []string{"first", "second", "third"} {
		err := s.EnqueueMessage(ctx, "sess-1", session.QueuedMessage{
			Type:    session.MessagePrompted,
			Content: content,
		})
		if err != nil {
			t.Fatalf("EnqueueMessage: %v", err)
		}
	}

	messages, err := s.DrainMessages(ctx, "sess-1")
	if err != nil {
		t.Fatalf("DrainMessages: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("drained %d messages, want 3", len(messages))
	}
	for i, want := range []string{"first", "second", "third"} {
		if messages[i].Content != want {
			t.Errorf("message %d = %q, want %q", i, messages[i].Content, want)
		}
		if messages[i].SessionID != "sess-1" {
			t.Errorf("message %d session id = %q", i, messages[i].SessionID)
		}
	}

	// The drain clears the queue.
	again, err := s.DrainMessages(ctx, "sess-1")
	if err != nil {
		t.Fatalf("DrainMessages: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second drain returned %d messages", len(again))
	}
}

func TestContextClaim(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := s.TryClaimContext(ctx, "OTR-42", "sess-1")
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v", ok, err)
	}

	ok, err = s.TryClaimContext(ctx, "OTR-42", "sess-2")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatalf("second claim succeeded while first holds it")
	}

	// Release by a non-holder leaves the claim in place.
	if err := s.ReleaseContext(ctx, "OTR-42", "sess-2"); err != nil {
		t.Fatalf("ReleaseContext: %v", err)
	}
	if holder, _ := s.ClaimHolder(ctx, "OTR-42"); holder != "sess-1" {
		t.Fatalf("holder = %q after non-holder release", holder)
	}

	// Release by the holder frees it for the next session.
	if err := s.ReleaseContext(ctx, "OTR-42", "sess-1"); err != nil {
		t.Fatalf("ReleaseContext: %v", err)
	}
	ok, err = s.TryClaimContext(ctx, "OTR-42", "sess-2")
	if err != nil || !ok {
		t.Fatalf("reclaim = %v, %v", ok, err)
	}
}
