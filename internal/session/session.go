// Package session defines the data model for agent sessions: one
// end-to-end handling of a triggering event, from the first model call
// through final cleanup. The lifecycle manager (internal/agent) mutates
// these records; the durable store (internal/store) persists them.
package session

import "time"

// Platform identifies which surface triggered a session.
type Platform string

const (
	PlatformSlack   Platform = "slack"
	PlatformLinear  Platform = "linear"
	PlatformGitHub  Platform = "github"
	PlatformGeneral Platform = "general"
)

// Status is the descriptive in-flight state of a session. Transitions
// past planning are driven by observed tool usage and exist for
// narration and monitoring — they never gate execution.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusPlanning     Status = "planning"
	StatusGathering    Status = "gathering"
	StatusActing       Status = "acting"
	StatusCompleting   Status = "completing"
)

// FinalStatus is the terminal outcome recorded on a completed session.
type FinalStatus string

const (
	FinalCompleted FinalStatus = "completed"
	FinalCancelled FinalStatus = "cancelled"
	FinalError     FinalStatus = "error"
)

// Message is one entry in a session's conversation transcript.
type Message struct {
	Role      string    `json:"role"` // system, user, assistant, tool
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Metadata carries the platform identifiers a session was triggered
// with. All fields are optional; what is present depends on the
// platform.
type Metadata struct {
	IssueID   string `json:"issue_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	ThreadTS  string `json:"thread_ts,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// Session is the active record for one in-flight request.
type Session struct {
	ID        string    `json:"id"`
	ContextID string    `json:"context_id"`
	StartTime time.Time `json:"start_time"`
	Platform  Platform  `json:"platform"`
	Status    Status    `json:"status"`

	// CurrentTool names the in-flight tool, empty between calls.
	CurrentTool string `json:"current_tool,omitempty"`

	// ToolsUsed has set semantics; AddToolUsed keeps it deduplicated.
	ToolsUsed []string `json:"tools_used,omitempty"`

	// ActionsPerformed is an ordered log of short human-readable
	// descriptions of completed actions.
	ActionsPerformed []string `json:"actions_performed,omitempty"`

	Messages []Message `json:"messages,omitempty"`
	Metadata Metadata  `json:"metadata"`
}

// AddToolUsed records a tool name, preserving set semantics.
func (s *Session) AddToolUsed(name string) {
	for _, t := range s.ToolsUsed {
		if t == name {
			return
		}
	}
	s.ToolsUsed = append(s.ToolsUsed, name)
}

// Completed is the permanent archive record written when a session
// ends, on every exit path.
type Completed struct {
	Session

	EndTime     time.Time   `json:"end_time"`
	DurationMS  int64       `json:"duration_ms"`
	FinalStatus FinalStatus `json:"final_status"`
	Error       string      `json:"error,omitempty"`
}

// MessageType classifies a queued message.
type MessageType string

const (
	// MessageCreated announces a new triggering event that was folded
	// into an existing session instead of starting its own.
	MessageCreated MessageType = "created"

	// MessagePrompted is a follow-up instruction for the running session.
	MessagePrompted MessageType = "prompted"

	// MessageStop requests cancellation. Once observed it terminates the
	// session and is never requeued.
	MessageStop MessageType = "stop"
)

// QueuedMessage is an out-of-band message delivered to a session
// already in flight, e.g. a second Slack message arriving while the
// first is still being processed.
type QueuedMessage struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      MessageType       `json:"type"`
	Content   string            `json:"content"`
	SessionID string            `json:"session_id"`
	IssueID   string            `json:"issue_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Update is a partial update applied to an active session record.
// Nil/empty fields are left untouched; ToolsUsed entries are merged
// with set semantics, while Messages and ActionsPerformed carry the
// full current value and replace what is stored.
type Update struct {
	CurrentTool      *string
	Status           *Status
	ToolsUsed        []string
	ActionsPerformed []string
	Messages         []Message
}

// Apply merges the update into the session in place.
func (u Update) Apply(s *Session) {
	if u.CurrentTool != nil {
		s.CurrentTool = *u.CurrentTool
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	for _, t := range u.ToolsUsed {
		s.AddToolUsed(t)
	}
	if u.ActionsPerformed != nil {
		s.ActionsPerformed = u.ActionsPerformed
	}
	if u.Messages != nil {
		s.Messages = u.Messages
	}
}
