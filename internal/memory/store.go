// Package memory provides the agent's long-term memory: an append-only
// SQLite store of completed interactions plus aggregate per-tool usage
// statistics. Sessions consult it when building context (previous
// conversations on the same issue or channel) and feed it on every
// tool call and completed run.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// maxFieldLen caps stored message and response text. Long transcripts
// are truncated rather than rejected so a verbose session can never
// fail its own archival.
const maxFieldLen = 8000

// Interaction is one completed agent exchange.
type Interaction struct {
	ID            string
	Timestamp     time.Time
	SessionID     string
	ContextID     string
	Platform      string
	UserMessage   string
	AgentResponse string
	ToolsUsed     []string
	Actions       []string
}

// ToolStat holds aggregate usage counters for one tool.
type ToolStat struct {
	Tool      string
	Uses      int64
	Successes int64
	Failures  int64
	LastUsed  time.Time
}

// Store is the SQLite-backed long-term memory. All public methods are
// safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore creates a memory store at the given database path. The
// schema is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open memory database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate memory schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS interactions (
		id             TEXT PRIMARY KEY,
		timestamp      TEXT NOT NULL,
		session_id     TEXT NOT NULL,
		context_id     TEXT NOT NULL,
		platform       TEXT NOT NULL,
		user_message   TEXT NOT NULL,
		agent_response TEXT NOT NULL,
		tools_used     TEXT NOT NULL,
		actions        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interactions_context ON interactions(context_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_interactions_session ON interactions(session_id);

	CREATE TABLE IF NOT EXISTS tool_stats (
		tool       TEXT PRIMARY KEY,
		uses       INTEGER NOT NULL DEFAULT 0,
		successes  INTEGER NOT NULL DEFAULT 0,
		failures   INTEGER NOT NULL DEFAULT 0,
		last_used  TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func truncate(s string) string {
	if len(s) <= maxFieldLen {
		return s
	}
	return s[:maxFieldLen] + "\n[truncated]"
}

// StoreInteraction persists a completed exchange. If rec.ID is empty,
// a UUIDv7 is generated. Oversized text fields are truncated.
func (s *Store) StoreInteraction(ctx context.Context, rec Interaction) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate interaction ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	tools, err := json.Marshal(rec.ToolsUsed)
	if err != nil {
		return fmt.Errorf("marshal tools used: %w", err)
	}
	actions, err := json.Marshal(rec.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO interactions
			(id, timestamp, session_id, context_id, platform, user_message, agent_response, tools_used, actions)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.SessionID,
		rec.ContextID,
		rec.Platform,
		truncate(rec.UserMessage),
		truncate(rec.AgentResponse),
		string(tools),
		string(actions),
	)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

// TrackToolUsage bumps the aggregate counters for a tool invocation.
func (s *Store) TrackToolUsage(ctx context.Context, tool string, success bool) error {
	successDelta, failureDelta := 0, 1
	if success {
		successDelta, failureDelta = 1, 0
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_stats (tool, uses, successes, failures, last_used)
		 VALUES (?, 1, ?, ?, ?)
		 ON CONFLICT(tool) DO UPDATE SET
			uses      = uses + 1,
			successes = successes + excluded.successes,
			failures  = failures + excluded.failures,
			last_used = excluded.last_used`,
		tool, successDelta, failureDelta,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("track tool usage %s: %w", tool, err)
	}
	return nil
}

// ToolStats returns per-tool aggregate counters, most-used first.
func (s *Store) ToolStats(ctx context.Context) ([]ToolStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool, uses, successes, failures, last_used
		 FROM tool_stats ORDER BY uses DESC`)
	if err != nil {
		return nil, fmt.Errorf("query tool stats: %w", err)
	}
	defer rows.Close()

	var stats []ToolStat
	for rows.Next() {
		var st ToolStat
		var lastUsed string
		if err := rows.Scan(&st.Tool, &st.Uses, &st.Successes, &st.Failures, &lastUsed); err != nil {
			return nil, fmt.Errorf("scan tool stats: %w", err)
		}
		st.LastUsed, _ = time.Parse(time.RFC3339, lastUsed)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// RecentInteractions returns the newest interactions for a context id.
func (s *Store) RecentInteractions(ctx context.Context, contextID string, limit int) ([]Interaction, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, session_id, context_id, platform, user_message, agent_response, tools_used, actions
		 FROM interactions
		 WHERE context_id = ?
		 ORDER BY timestamp DESC
		 LIMIT ?`,
		contextID, limit)
	if err != nil {
		return nil, fmt.Errorf("query interactions for %s: %w", contextID, err)
	}
	defer rows.Close()

	var result []Interaction
	for rows.Next() {
		var rec Interaction
		var ts, tools, actions string
		if err := rows.Scan(&rec.ID, &ts, &rec.SessionID, &rec.ContextID, &rec.Platform,
			&rec.UserMessage, &rec.AgentResponse, &tools, &actions); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339, ts)
		if err := json.Unmarshal([]byte(tools), &rec.ToolsUsed); err != nil {
			return nil, fmt.Errorf("decode tools used: %w", err)
		}
		if err := json.Unmarshal([]byte(actions), &rec.Actions); err != nil {
			return nil, fmt.Errorf("decode actions: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ContextBlock renders previous interactions for a context id as a
// text block suitable for inclusion in a system prompt. Returns ""
// when the context has no history.
func (s *Store) ContextBlock(ctx context.Context, contextID string, limit int) (string, error) {
	recs, err := s.RecentInteractions(ctx, contextID, limit)
	if err != nil {
		return "", err
	}
	if len(recs) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Previous conversations in this context:\n")
	// Oldest first reads naturally in a prompt.
	for i := len(recs) - 1; i >= 0; i-- {
		rec := recs[i]
		fmt.Fprintf(&b, "\n[%s]\nUser: %s\nAgent: %s\n",
			rec.Timestamp.Format("2006-01-02 15:04"),
			summarizeForPrompt(rec.UserMessage),
			summarizeForPrompt(rec.AgentResponse))
		if len(rec.Actions) > 0 {
			fmt.Fprintf(&b, "Actions taken: %s\n", strings.Join(rec.Actions, "; "))
		}
	}
	return b.String(), nil
}

// summarizeForPrompt keeps prompt context blocks compact.
func summarizeForPrompt(s string) string {
	const max = 500
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
