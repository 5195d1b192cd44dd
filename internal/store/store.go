// Package store implements the durable session store on Redis. It
// holds active sessions (TTL'd so a crashed process self-heals),
// permanent completed-session archives with a reverse-chronological
// index, a per-session message queue, a per-session cancellation flag,
// and the per-context claim that enforces one active session per
// context id.
//
// Every operation draws a connection from the pool, executes, and
// normalizes the reply into typed Go values before returning — callers
// never see raw Redis reply shapes.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/otron-io/otron/internal/session"
)

// Key schema. Active records and their supporting keys expire; archive
// records never do.
const (
	keyActivePrefix  = "otron:session:active:"
	keyActiveIndex   = "otron:session:active:index"
	keyArchivePrefix = "otron:session:archive:"
	keyArchiveIndex  = "otron:session:archive:index"
	keyQueuePrefix   = "otron:session:queue:"
	keyCancelPrefix  = "otron:session:cancel:"
	keyClaimPrefix   = "otron:context:claim:"
)

// DefaultSessionTTL is how long an active session record lives without
// an update. Abandoned sessions (crashed process, lost invocation)
// clear themselves when it elapses.
const DefaultSessionTTL = time.Hour

// Redis is the durable session store.
type Redis struct {
	pool   *redis.Pool
	ttl    time.Duration
	logger *slog.Logger
}

// Config holds Redis connection settings.
type Config struct {
	Address  string
	Password string
	DB       int

	// SessionTTL overrides DefaultSessionTTL when non-zero.
	SessionTTL time.Duration
}

// New creates a session store backed by the Redis at cfg.Address.
func New(cfg Config, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	pool := &redis.Pool{
		MaxIdle:     5,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			var opts []redis.DialOption
			if cfg.Password != "" {
				opts = append(opts, redis.DialPassword(cfg.Password))
			}
			if cfg.DB != 0 {
				opts = append(opts, redis.DialDatabase(cfg.DB))
			}
			return redis.Dial("tcp", cfg.Address, opts...)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}

	return &Redis{
		pool:   pool,
		ttl:    ttl,
		logger: logger.With("component", "store"),
	}
}

// NewWithPool creates a store over an existing pool. Used by tests.
func NewWithPool(pool *redis.Pool, ttl time.Duration, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Redis{pool: pool, ttl: ttl, logger: logger.With("component", "store")}
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.pool.Close()
}

// Ping checks Redis reachability.
func (r *Redis) Ping(ctx context.Context) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Do("PING")
	return err
}

func (r *Redis) conn(ctx context.Context) (redis.Conn, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	return conn, nil
}

// ttlMillis returns the active-record TTL in milliseconds for PX args.
func (r *Redis) ttlMillis() int64 {
	return r.ttl.Milliseconds()
}

// CreateActive persists a new active session record and adds it to the
// active index. The record expires after the session TTL unless
// refreshed by updates.
func (r *Redis) CreateActive(ctx context.Context, s *session.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.ID, err)
	}

	conn, err := r.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Do("SET", keyActivePrefix+s.ID, data, "PX", r.ttlMillis()); err != nil {
		return fmt.Errorf("create active session %s: %w", s.ID, err)
	}
	if _, err := conn.Do("SADD", keyActiveIndex, s.ID); err != nil {
		return fmt.Errorf("index active session %s: %w", s.ID, err)
	}
	return nil
}

// GetActive returns the active session record, or nil if it does not
// exist (expired, completed, or never created).
func (r *Redis) GetActive(ctx context.Context, id string) (*session.Session, error) {
	conn, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return getActiveOn(conn, id)
}

func getActiveOn(conn redis.Conn, id string) (*session.Session, error) {
	data, err := redis.Bytes(conn.Do("GET", keyActivePrefix+id))
	if err == redis.ErrNil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active session %s: %w", id, err)
	}

	var s session.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode active session %s: %w", id, err)
	}
	return &s, nil
}

// UpdateActive applies a partial update to an active session and
// refreshes its TTL. Updating a session that no longer exists is not
// an error — the session may have been archived by a concurrent
// completion, and last-write-wins is the documented policy here.
func (r *Redis) UpdateActive(ctx context.Context, id string, u session.Update) error {
	conn, err := r.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	s, err := getActiveOn(conn, id)
	if err != nil {
		return err
	}
	if s == nil {
		return nil
	}

	u.Apply(s)

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", id, err)
	}
	if _, err := conn.Do("SET", keyActivePrefix+id, data, "PX", r.ttlMillis()); err != nil {
		return fmt.Errorf("update active session %s: %w", id, err)
	}
	return nil
}

// ListActiveIDs returns the ids in the active index. Entries whose
// records have expired may still appear until archived; callers must
// tolerate GetActive returning nil for a listed id.
func (r *Redis) ListActiveIDs(ctx context.Context) ([]string, error) {
	conn, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	ids, err := redis.Strings(conn.Do("SMEMBERS", keyActiveIndex))
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return ids, nil
}

// ActiveSessionForIssue scans active sessions for one whose metadata
// references the given issue. This is the advisory lookup described in
// the concurrency model: scan-based, race-prone under concurrent
// creation, and not the uniqueness mechanism (TryClaimContext is).
func (r *Redis) ActiveSessionForIssue(ctx context.Context, issueID string) (*session.Session, error) {
	ids, err := r.ListActiveIDs(ctx)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		s, err := r.GetActive(ctx, id)
		if err != nil {
			return nil, err
		}
		if s == nil {
			continue
		}
		if s.Metadata.IssueID == issueID || s.ContextID == issueID {
			return s, nil
		}
	}
	return nil, nil
}

// CompleteAndArchive stamps completion fields onto the active record,
// writes the permanent archive record, pushes it onto the
// reverse-chronological index, and removes every active-side key
// (record, index membership, cancellation flag, queue, context claim).
// Returns nil if no active record exists for the id.
func (r *Redis) CompleteAndArchive(ctx context.Context, id string, final session.FinalStatus, errMsg string) (*session.Completed, error) {
	conn, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	s, err := getActiveOn(conn, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	completed := &session.Completed{
		Session:     *s,
		EndTime:     now,
		DurationMS:  now.Sub(s.StartTime).Milliseconds(),
		FinalStatus: final,
		Error:       errMsg,
	}

	data, err := json.Marshal(completed)
	if err != nil {
		return nil, fmt.Errorf("marshal completed session %s: %w", id, err)
	}

	if _, err := conn.Do("SET", keyArchivePrefix+id, data); err != nil {
		return nil, fmt.Errorf("archive session %s: %w", id, err)
	}
	if _, err := conn.Do("LPUSH", keyArchiveIndex, id); err != nil {
		return nil, fmt.Errorf("index archived session %s: %w", id, err)
	}

	// Active-side teardown. Failures here are logged, not returned —
	// the archive record already exists and the remaining keys expire
	// on their own.
	for _, del := range [][]any{
		{"DEL", keyActivePrefix + id},
		{"SREM", keyActiveIndex, id},
		{"DEL", keyCancelPrefix + id},
		{"DEL", keyQueuePrefix + id},
	} {
		if _, err := conn.Do(del[0].(string), del[1:]...); err != nil {
			r.logger.Warn("active session teardown failed",
				"session", id, "command", del[0], "error", err)
		}
	}

	r.releaseClaimOn(conn, s.ContextID, id)

	return completed, nil
}

// GetCompleted returns an archived session record, or nil if unknown.
func (r *Redis) GetCompleted(ctx context.Context, id string) (*session.Completed, error) {
	conn, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("GET", keyArchivePrefix+id))
	if err == redis.ErrNil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get completed session %s: %w", id, err)
	}

	var c session.Completed
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode completed session %s: %w", id, err)
	}
	return &c, nil
}

// ListCompleted returns one page of archived sessions, newest first.
func (r *Redis) ListCompleted(ctx context.Context, offset, limit int) ([]*session.Completed, error) {
	if limit <= 0 {
		limit = 20
	}

	conn, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	ids, err := redis.Strings(conn.Do("LRANGE", keyArchiveIndex, offset, offset+limit-1))
	if err != nil {
		return nil, fmt.Errorf("list completed sessions: %w", err)
	}

	result := make([]*session.Completed, 0, len(ids))
	for _, id := range ids {
		data, err := redis.Bytes(conn.Do("GET", keyArchivePrefix+id))
		if err == redis.ErrNil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get completed session %s: %w", id, err)
		}
		var c session.Completed
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode completed session %s: %w", id, err)
		}
		result = append(result, &c)
	}
	return result, nil
}

// RequestCancellation sets the durable cancellation flag for a session.
// The flag is observed by the tool supervisor before each tool call, so
// cancellation requested from another process takes effect at the next
// tool-call boundary.
func (r *Redis) RequestCancellation(ctx context.Context, id string) error {
	conn, err := r.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Do("SET", keyCancelPrefix+id, "1", "PX", r.ttlMillis()); err != nil {
		return fmt.Errorf("request cancellation %s: %w", id, err)
	}
	return nil
}

// IsCancelled reports whether the durable cancellation flag is set.
func (r *Redis) IsCancelled(ctx context.Context, id string) (bool, error) {
	conn, err := r.conn(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	_, err = redis.String(conn.Do("GET", keyCancelPrefix+id))
	if err == redis.ErrNil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check cancellation %s: %w", id, err)
	}
	return true, nil
}

// EnqueueMessage appends a message to a session's queue. This is the
// safe channel for concurrent callers to influence a running session.
func (r *Redis) EnqueueMessage(ctx context.Context, id string, msg session.QueuedMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.SessionID = id

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal queued message: %w", err)
	}

	conn, err := r.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Do("RPUSH", keyQueuePrefix+id, data); err != nil {
		return fmt.Errorf("enqueue message for %s: %w", id, err)
	}
	if _, err := conn.Do("PEXPIRE", keyQueuePrefix+id, r.ttlMillis()); err != nil {
		return fmt.Errorf("expire queue for %s: %w", id, err)
	}
	return nil
}

// DrainMessages fetches and clears the session's queue in one
// transaction, returning messages in arrival order. Concurrent
// enqueuers either land before the drain (and are returned) or after
// it (and are picked up by the next drain) — never lost.
func (r *Redis) DrainMessages(ctx context.Context, id string) ([]session.QueuedMessage, error) {
	conn, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	key := keyQueuePrefix + id
	if err := conn.Send("MULTI"); err != nil {
		return nil, fmt.Errorf("drain queue %s: %w", id, err)
	}
	if err := conn.Send("LRANGE", key, 0, -1); err != nil {
		return nil, fmt.Errorf("drain queue %s: %w", id, err)
	}
	if err := conn.Send("DEL", key); err != nil {
		return nil, fmt.Errorf("drain queue %s: %w", id, err)
	}

	replies, err := redis.Values(conn.Do("EXEC"))
	if err != nil {
		return nil, fmt.Errorf("drain queue %s: %w", id, err)
	}
	if len(replies) == 0 {
		return nil, nil
	}

	items, err := redis.ByteSlices(replies[0], nil)
	if err != nil {
		return nil, fmt.Errorf("drain queue %s: decode: %w", id, err)
	}

	messages := make([]session.QueuedMessage, 0, len(items))
	for _, item := range items {
		var msg session.QueuedMessage
		if err := json.Unmarshal(item, &msg); err != nil {
			r.logger.Warn("dropping malformed queued message", "session", id, "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// TryClaimContext attempts to claim a context id for a session via
// SET NX. Returns true if the claim succeeded, false if another
// session already holds it. The claim expires with the session TTL so
// a crashed holder cannot wedge the context forever.
func (r *Redis) TryClaimContext(ctx context.Context, contextID, sessionID string) (bool, error) {
	conn, err := r.conn(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	reply, err := redis.String(conn.Do("SET", keyClaimPrefix+contextID, sessionID, "NX", "PX", r.ttlMillis()))
	if err == redis.ErrNil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim context %s: %w", contextID, err)
	}
	return reply == "OK", nil
}

// ClaimHolder returns the session id currently holding a context
// claim, or empty if unclaimed.
func (r *Redis) ClaimHolder(ctx context.Context, contextID string) (string, error) {
	conn, err := r.conn(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	holder, err := redis.String(conn.Do("GET", keyClaimPrefix+contextID))
	if err == redis.ErrNil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("claim holder %s: %w", contextID, err)
	}
	return holder, nil
}

// ReleaseContext releases a context claim if (and only if) the given
// session holds it. A claim taken over by a newer session is left alone.
func (r *Redis) ReleaseContext(ctx context.Context, contextID, sessionID string) error {
	conn, err := r.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	r.releaseClaimOn(conn, contextID, sessionID)
	return nil
}

func (r *Redis) releaseClaimOn(conn redis.Conn, contextID, sessionID string) {
	if contextID == "" {
		return
	}
	holder, err := redis.String(conn.Do("GET", keyClaimPrefix+contextID))
	if err != nil && err != redis.ErrNil {
		r.logger.Warn("context claim lookup failed", "context", contextID, "error", err)
		return
	}
	if holder != sessionID {
		return
	}
	if _, err := conn.Do("DEL", keyClaimPrefix+contextID); err != nil {
		r.logger.Warn("context claim release failed", "context", contextID, "error", err)
	}
}
