package session

import (
	"fmt"
	"regexp"
)

// GeneralContext is the bucket for requests with no issue or chat
// identity. Sessions in this bucket still get memory and archival,
// they just share one scope.
const GeneralContext = "general"

// Issue identifiers look like OTR-123: a team key of two or more
// uppercase letters, a hyphen, and a number. UUID-shaped references
// appear when platforms hand us raw issue ids instead of keys.
var (
	issueKeyPattern  = regexp.MustCompile(`\b[A-Z]{2,}-\d+\b`)
	issueUUIDPattern = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
)

// ChatContext identifies the Slack conversation a request arrived in.
type ChatContext struct {
	ChannelID string
	ThreadTS  string
	UserID    string
}

// ExtractContextID derives the context id — the unit of session
// uniqueness and memory scoping — from a conversation.
//
// Precedence: an issue key (OTR-123) anywhere in the messages, then a
// UUID-shaped issue reference, then a chat-derived key
// ("slack:<channel>:<thread>"), then [GeneralContext].
func ExtractContextID(messages []Message, chat *ChatContext) string {
	for _, m := range messages {
		if key := issueKeyPattern.FindString(m.Content); key != "" {
			return key
		}
	}
	for _, m := range messages {
		if id := issueUUIDPattern.FindString(m.Content); id != "" {
			return id
		}
	}
	if chat != nil && chat.ChannelID != "" {
		if chat.ThreadTS != "" {
			return fmt.Sprintf("slack:%s:%s", chat.ChannelID, chat.ThreadTS)
		}
		return fmt.Sprintf("slack:%s", chat.ChannelID)
	}
	return GeneralContext
}

// ResolvePlatform determines the platform for a session. An explicit
// chat context means Slack; an issue-scoped context id with no chat
// context means Linear; everything else lands in the general bucket.
func ResolvePlatform(contextID string, chat *ChatContext) Platform {
	if chat != nil {
		return PlatformSlack
	}
	if contextID != GeneralContext {
		return PlatformLinear
	}
	return PlatformGeneral
}
