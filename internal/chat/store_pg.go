package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/knova/knova/internal/inference"
)

// PGStore is the PostgreSQL TurnStore. Safe for concurrent use.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a store backed by pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// CreateConversation implements TurnStore.
func (s *PGStore) CreateConversation(ctx context.Context, userID int64, projectID *int64, title string) (*Conversation, error) {
	conv := &Conversation{UserID: userID, ProjectID: projectID, Title: title}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (user_id, project_id, title)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`,
		userID, projectID, title,
	).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return conv, nil
}

// Conversation implements TurnStore.
func (s *PGStore) Conversation(ctx context.Context, id int64) (*Conversation, error) {
	conv := &Conversation{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, project_id, title, created_at, updated_at
		FROM conversations WHERE id = $1`,
		id,
	).Scan(&conv.ID, &conv.UserID, &conv.ProjectID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation %d: %w", id, err)
	}
	return conv, nil
}

// Conversations implements TurnStore, newest first.
func (s *PGStore) Conversations(ctx context.Context, userID int64, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, project_id, title, created_at, updated_at
		FROM conversations
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.ProjectID, &conv.Title,
			&conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// DeleteConversation implements TurnStore. Messages cascade via the schema.
func (s *PGStore) DeleteConversation(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// AppendMessage implements TurnStore.
func (s *PGStore) AppendMessage(ctx context.Context, msg *Message) error {
	citations, err := json.Marshal(msg.Citations)
	if err != nil {
		return fmt.Errorf("encoding citations: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, role, content, citations,
		                      confidence, model, latency_ms, degraded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		msg.ConversationID, msg.Role, msg.Content, citations,
		msg.Confidence, msg.Model, msg.Latency.Milliseconds(), msg.Degraded,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("touching conversation %d: %w", msg.ConversationID, err)
	}
	return nil
}

// History implements TurnStore: the most recent limit messages, oldest first.
func (s *PGStore) History(ctx context.Context, conversationID int64, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, citations,
		       confidence, model, latency_ms, degraded, created_at
		FROM (
			SELECT * FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var msg Message
		var citations []byte
		var latencyMS int64
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&citations, &msg.Confidence, &msg.Model, &latencyMS, &msg.Degraded,
			&msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		if len(citations) > 0 {
			if err := json.Unmarshal(citations, &msg.Citations); err != nil {
				return nil, fmt.Errorf("decoding citations of message %d: %w", msg.ID, err)
			}
		}
		msg.Latency = time.Duration(latencyMS) * time.Millisecond
		out = append(out, msg)
	}
	return out, rows.Err()
}

// UserMessageCount implements TurnStore.
func (s *PGStore) UserMessageCount(ctx context.Context, conversationID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM messages
		WHERE conversation_id = $1 AND role = $2`,
		conversationID, inference.RoleUser,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting user messages: %w", err)
	}
	return n, nil
}

// SetTitle implements TurnStore.
func (s *PGStore) SetTitle(ctx context.Context, conversationID int64, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET title = $1, updated_at = now() WHERE id = $2`,
		title, conversationID)
	if err != nil {
		return fmt.Errorf("updating title of conversation %d: %w", conversationID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}
