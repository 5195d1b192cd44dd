// Package repos manages repository definitions: the curated set of
// codebases the agent knows about and may act on. Definitions live in
// SQLite and the active ones are rendered into a context block for the
// model's instructions.
package repos

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

// Definition describes one repository the agent can work with.
type Definition struct {
	ID                 string
	Name               string
	Description        string
	Purpose            string
	GitHubURL          string
	Owner              string
	Repo               string
	IsActive           bool
	Tags               []string
	ContextDescription string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Store is the SQLite-backed repository definition store.
type Store struct {
	db *sql.DB
}

// NewStore creates a repository store at the given database path. The
// schema is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open repos database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate repos schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repo_definitions (
		id                  TEXT PRIMARY KEY,
		name                TEXT NOT NULL UNIQUE,
		description         TEXT NOT NULL,
		purpose             TEXT NOT NULL,
		github_url          TEXT NOT NULL,
		owner               TEXT NOT NULL,
		repo                TEXT NOT NULL,
		is_active           INTEGER NOT NULL DEFAULT 1,
		tags                TEXT NOT NULL,
		context_description TEXT NOT NULL,
		created_at          TEXT NOT NULL,
		updated_at          TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Upsert creates or replaces a definition by name. IDs and timestamps
// are filled in when absent.
func (s *Store) Upsert(ctx context.Context, def Definition) error {
	if def.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate repo definition ID: %w", err)
		}
		def.ID = id.String()
	}
	now := time.Now().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now

	tags, err := json.Marshal(def.Tags)
	if err != nil {
		return fmt.Errorf("marshal repo tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO repo_definitions
			(id, name, description, purpose, github_url, owner, repo, is_active, tags, context_description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			description         = excluded.description,
			purpose             = excluded.purpose,
			github_url          = excluded.github_url,
			owner               = excluded.owner,
			repo                = excluded.repo,
			is_active           = excluded.is_active,
			tags                = excluded.tags,
			context_description = excluded.context_description,
			updated_at          = excluded.updated_at`,
		def.ID, def.Name, def.Description, def.Purpose, def.GitHubURL,
		def.Owner, def.Repo, boolToInt(def.IsActive), string(tags),
		def.ContextDescription,
		def.CreatedAt.Format(time.RFC3339),
		def.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upsert repo definition %s: %w", def.Name, err)
	}
	return nil
}

// Active returns the active definitions, alphabetical by name.
func (s *Store) Active(ctx context.Context) ([]Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, purpose, github_url, owner, repo, is_active, tags, context_description, created_at, updated_at
		 FROM repo_definitions
		 WHERE is_active = 1
		 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query active repos: %w", err)
	}
	defer rows.Close()

	var defs []Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// ByName returns a definition by name, or nil if unknown.
func (s *Store) ByName(ctx context.Context, name string) (*Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, purpose, github_url, owner, repo, is_active, tags, context_description, created_at, updated_at
		 FROM repo_definitions WHERE name = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("query repo %s: %w", name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	def, err := scanDefinition(rows)
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// SetActive flips a definition's active flag.
func (s *Store) SetActive(ctx context.Context, name string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE repo_definitions SET is_active = ?, updated_at = ? WHERE name = ?`,
		boolToInt(active), time.Now().UTC().Format(time.RFC3339), name)
	if err != nil {
		return fmt.Errorf("set repo %s active=%t: %w", name, active, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set repo %s active: not found", name)
	}
	return nil
}

func scanDefinition(rows *sql.Rows) (Definition, error) {
	var def Definition
	var active int
	var tags, created, updated string
	err := rows.Scan(&def.ID, &def.Name, &def.Description, &def.Purpose,
		&def.GitHubURL, &def.Owner, &def.Repo, &active, &tags,
		&def.ContextDescription, &created, &updated)
	if err != nil {
		return Definition{}, fmt.Errorf("scan repo definition: %w", err)
	}
	def.IsActive = active != 0
	if err := json.Unmarshal([]byte(tags), &def.Tags); err != nil {
		return Definition{}, fmt.Errorf("decode repo tags: %w", err)
	}
	def.CreatedAt, _ = time.Parse(time.RFC3339, created)
	def.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return def, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ContextBlock renders the active definitions as a text block for the
// model's instructions. Absence of definitions (or a store failure
// upstream) yields an empty block, never an error surfaced to the
// session.
func ContextBlock(defs []Definition) string {
	if len(defs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Repositories you can work with:\n")
	for _, def := range defs {
		fmt.Fprintf(&b, "\n- %s (%s/%s): %s", def.Name, def.Owner, def.Repo, def.Description)
		if def.Purpose != "" {
			fmt.Fprintf(&b, "\n  Purpose: %s", def.Purpose)
		}
		if def.ContextDescription != "" {
			fmt.Fprintf(&b, "\n  Notes: %s", def.ContextDescription)
		}
		if len(def.Tags) > 0 {
			fmt.Fprintf(&b, "\n  Tags: %s", strings.Join(def.Tags, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
