package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/knova/knova/internal/inference"
)

// MemoryStore is an in-process TurnStore for tests and local development.
// Safe for concurrent use.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[int64]*Conversation
	messages      map[int64][]Message
	nextConvID    int64
	nextMsgID     int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[int64]*Conversation),
		messages:      make(map[int64][]Message),
	}
}

// CreateConversation implements TurnStore.
func (m *MemoryStore) CreateConversation(_ context.Context, userID int64, projectID *int64, title string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextConvID++
	conv := &Conversation{
		ID:        m.nextConvID,
		UserID:    userID,
		ProjectID: projectID,
		Title:     title,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.conversations[conv.ID] = conv

	out := *conv
	return &out, nil
}

// Conversation implements TurnStore.
func (m *MemoryStore) Conversation(_ context.Context, id int64) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	out := *conv
	return &out, nil
}

// Conversations implements TurnStore, newest first.
func (m *MemoryStore) Conversations(_ context.Context, userID int64, limit int) ([]Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Conversation
	for _, conv := range m.conversations {
		if conv.UserID == userID {
			out = append(out, *conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteConversation implements TurnStore.
func (m *MemoryStore) DeleteConversation(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[id]; !ok {
		return ErrConversationNotFound
	}
	delete(m.conversations, id)
	delete(m.messages, id)
	return nil
}

// AppendMessage implements TurnStore.
func (m *MemoryStore) AppendMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return ErrConversationNotFound
	}
	m.nextMsgID++
	msg.ID = m.nextMsgID
	msg.CreatedAt = time.Now()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], *msg)
	m.conversations[msg.ConversationID].UpdatedAt = msg.CreatedAt
	return nil
}

// History implements TurnStore: the most recent limit messages, oldest first.
func (m *MemoryStore) History(_ context.Context, conversationID int64, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// UserMessageCount implements TurnStore.
func (m *MemoryStore) UserMessageCount(_ context.Context, conversationID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, msg := range m.messages[conversationID] {
		if msg.Role == inference.RoleUser {
			n++
		}
	}
	return n, nil
}

// SetTitle implements TurnStore.
func (m *MemoryStore) SetTitle(_ context.Context, conversationID int64, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	conv.Title = title
	return nil
}
