package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SearchMessages runs a full-text query over message content, best match
// first. An empty projectID searches all projects. Messages in deleted
// conversations are excluded.
func (s *Store) SearchMessages(ctx context.Context, query, projectID string, limit int) ([]MessageHit, error) {
	ftsQuery := sanitizeFTS(query)
	if ftsQuery == "" {
		return nil, fmt.Errorf("%w: empty search query", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 20
	}

	q := `
		SELECT m.seq, m.id, m.conversation_id, m.role, m.content, m.model,
		       m.prompt_tokens, m.completion_tokens, m.finish_reason, m.created_at,
		       fts.rank
		FROM messages_fts fts
		JOIN messages m ON m.seq = fts.rowid
		JOIN conversations c ON c.id = m.conversation_id
		WHERE messages_fts MATCH ? AND c.deleted_at IS NULL
	`
	args := []any{ftsQuery}

	if projectID != "" {
		q += " AND c.project_id = ?"
		args = append(args, projectID)
	}

	q += " ORDER BY fts.rank LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search messages: %w", err)
	}
	defer rows.Close()

	var hits []MessageHit
	for rows.Next() {
		var h MessageHit
		var model, finishReason sql.NullString
		if err := rows.Scan(&h.Seq, &h.ID, &h.ConversationID, &h.Role, &h.Content, &model,
			&h.PromptTokens, &h.CompletionTokens, &finishReason, &h.CreatedAt, &h.Score); err != nil {
			return nil, fmt.Errorf("store: scan message hit: %w", err)
		}
		h.Model = model.String
		h.FinishReason = finishReason.String
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// SearchDocuments runs a full-text query over document names and content,
// best match first, returning a snippet around the match.
func (s *Store) SearchDocuments(ctx context.Context, query, projectID string, limit int) ([]DocumentHit, error) {
	ftsQuery := sanitizeFTS(query)
	if ftsQuery == "" {
		return nil, fmt.Errorf("%w: empty search query", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 20
	}

	q := `
		SELECT d.id, d.project_id, d.name,
		       snippet(documents_fts, 1, '[', ']', '…', 16),
		       fts.rank, d.created_at
		FROM documents_fts fts
		JOIN documents d ON d.seq = fts.rowid
		WHERE documents_fts MATCH ? AND d.deleted_at IS NULL
	`
	args := []any{ftsQuery}

	if projectID != "" {
		q += " AND d.project_id = ?"
		args = append(args, projectID)
	}

	q += " ORDER BY fts.rank LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search documents: %w", err)
	}
	defer rows.Close()

	var hits []DocumentHit
	for rows.Next() {
		var h DocumentHit
		if err := rows.Scan(&h.ID, &h.ProjectID, &h.Name, &h.Snippet, &h.Score, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan document hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
