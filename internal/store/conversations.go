package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CreateConversation inserts a new conversation under a live project.
func (s *Store) CreateConversation(ctx context.Context, c *Conversation) error {
	if c == nil || c.ProjectID == "" {
		return fmt.Errorf("%w: project id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: conversation title is required", ErrInvalidInput)
	}

	// The FK alone would not reject soft-deleted projects.
	if _, err := s.GetProject(ctx, c.ProjectID); err != nil {
		return err
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, project_id, title, model, system_prompt, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.Title, nullableString(c.Model),
		nullableString(c.SystemPrompt), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create conversation: %w", err)
	}
	return nil
}

// GetConversation returns a live conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, title, model, system_prompt, created_at, updated_at
		 FROM conversations WHERE id = ? AND deleted_at IS NULL`, id)
	return scanConversation(row)
}

// ListConversations returns live conversations for a project, newest first.
func (s *Store) ListConversations(ctx context.Context, projectID string, limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, title, model, system_prompt, created_at, updated_at
		 FROM conversations
		 WHERE project_id = ? AND deleted_at IS NULL
		 ORDER BY datetime(created_at) DESC, id
		 LIMIT ? OFFSET ?`, projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var c Conversation
		var model, systemPrompt sql.NullString
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Title, &model, &systemPrompt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan conversation: %w", err)
		}
		c.Model = model.String
		c.SystemPrompt = systemPrompt.String
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// UpdateConversation updates title, model, and system prompt.
func (s *Store) UpdateConversation(ctx context.Context, c *Conversation) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: conversation id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: conversation title is required", ErrInvalidInput)
	}
	c.UpdatedAt = Now()

	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET title = ?, model = ?, system_prompt = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		c.Title, nullableString(c.Model), nullableString(c.SystemPrompt), c.UpdatedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update conversation: %w", err)
	}
	return requireRow(res)
}

// TouchConversation bumps updated_at, keeping recently active threads at
// the top of recency-sorted views.
func (s *Store) TouchConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		Now(), id)
	if err != nil {
		return fmt.Errorf("store: touch conversation: %w", err)
	}
	return requireRow(res)
}

// DeleteConversation soft-deletes a conversation.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		Now(), id)
	if err != nil {
		return fmt.Errorf("store: delete conversation: %w", err)
	}
	return requireRow(res)
}

func scanConversation(row *sql.Row) (*Conversation, error) {
	var c Conversation
	var model, systemPrompt sql.NullString
	err := row.Scan(&c.ID, &c.ProjectID, &c.Title, &model, &systemPrompt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan conversation: %w", err)
	}
	c.Model = model.String
	c.SystemPrompt = systemPrompt.String
	return &c, nil
}
