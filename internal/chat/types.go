// Package chat orchestrates conversational turns: authorization resolution,
// filter compilation, retrieval, inference, persistence, and audit, in that
// order.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/knova/knova/internal/inference"
)

// DefaultTitle is the placeholder title of a new conversation. It is replaced
// automatically from the first user message.
const DefaultTitle = "New Chat"

// titleLimit caps auto-generated conversation titles.
const titleLimit = 50

var (
	// ErrConversationNotFound covers both missing conversations and
	// conversations owned by someone else; the two are indistinguishable
	// to the caller.
	ErrConversationNotFound = errors.New("conversation not found")
)

// Conversation is a chat thread owned by one user, optionally pinned to a
// project.
type Conversation struct {
	ID        int64
	UserID    int64
	ProjectID *int64
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one persisted turn half. Assistant messages carry the inference
// metadata; user messages leave it zero.
type Message struct {
	ID             int64
	ConversationID int64
	Role           string // inference.RoleUser or inference.RoleAssistant
	Content        string
	Citations      []inference.Citation
	Confidence     float64
	Model          string
	Latency        time.Duration
	Degraded       bool
	CreatedAt      time.Time
}

// TurnStore persists conversations and messages. Implementations: Postgres
// for production, MemoryStore for tests.
type TurnStore interface {
	CreateConversation(ctx context.Context, userID int64, projectID *int64, title string) (*Conversation, error)
	Conversation(ctx context.Context, id int64) (*Conversation, error)
	Conversations(ctx context.Context, userID int64, limit int) ([]Conversation, error)
	DeleteConversation(ctx context.Context, id int64) error

	// AppendMessage assigns msg.ID and msg.CreatedAt.
	AppendMessage(ctx context.Context, msg *Message) error
	// History returns the most recent limit messages in chronological order.
	History(ctx context.Context, conversationID int64, limit int) ([]Message, error)
	UserMessageCount(ctx context.Context, conversationID int64) (int, error)
	SetTitle(ctx context.Context, conversationID int64, title string) error
}

// autoTitle derives a conversation title from the first user message.
func autoTitle(content string) string {
	runes := []rune(content)
	if len(runes) > titleLimit {
		return string(runes[:titleLimit]) + "..."
	}
	return content
}
