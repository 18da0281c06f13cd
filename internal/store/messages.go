package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CreateMessage appends a message to a live conversation.
func (s *Store) CreateMessage(ctx context.Context, m *Message) error {
	if m == nil || m.ConversationID == "" {
		return fmt.Errorf("%w: conversation id is required", ErrInvalidInput)
	}
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, m.Role)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: message content is required", ErrInvalidInput)
	}

	if _, err := s.GetConversation(ctx, m.ConversationID); err != nil {
		return err
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = Now()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, model, prompt_tokens, completion_tokens, finish_reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Role, m.Content, nullableString(m.Model),
		m.PromptTokens, m.CompletionTokens, nullableString(m.FinishReason), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create message: %w", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		m.Seq = seq
	}
	return nil
}

// GetMessage returns a message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT seq, id, conversation_id, role, content, model, prompt_tokens, completion_tokens, finish_reason, created_at
		 FROM messages WHERE id = ?`, id)
	m, err := scanMessageRow(row.Scan)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns a conversation's messages in insertion order.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, conversation_id, role, content, model, prompt_tokens, completion_tokens, finish_reason, created_at
		 FROM messages
		 WHERE conversation_id = ?
		 ORDER BY seq
		 LIMIT ? OFFSET ?`, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// ListRecentMessages returns the last limit messages of a conversation in
// chronological order. Used to assemble the model prompt window.
func (s *Store) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 40
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, conversation_id, role, content, model, prompt_tokens, completion_tokens, finish_reason, created_at
		 FROM messages
		 WHERE conversation_id = ?
		 ORDER BY seq DESC
		 LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list recent messages: %w", err)
	}
	defer rows.Close()

	messages, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// CountMessages returns the number of messages in a conversation.
func (s *Store) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count messages: %w", err)
	}
	return n, nil
}

// DeleteMessage removes a message permanently.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete message: %w", err)
	}
	return requireRow(res)
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		m, err := scanMessageRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

func scanMessageRow(scan func(...any) error) (*Message, error) {
	var m Message
	var model, finishReason sql.NullString
	err := scan(&m.Seq, &m.ID, &m.ConversationID, &m.Role, &m.Content, &model,
		&m.PromptTokens, &m.CompletionTokens, &finishReason, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan message: %w", err)
	}
	m.Model = model.String
	m.FinishReason = finishReason.String
	return &m, nil
}
