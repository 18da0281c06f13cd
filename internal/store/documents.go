package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CreateDocument inserts an uploaded document under a live project with
// status pending.
func (s *Store) CreateDocument(ctx context.Context, d *Document) error {
	if d == nil || d.ProjectID == "" {
		return fmt.Errorf("%w: project id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: document name is required", ErrInvalidInput)
	}

	if _, err := s.GetProject(ctx, d.ProjectID); err != nil {
		return err
	}

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = DocPending
	}
	now := Now()
	d.CreatedAt = now
	d.UpdatedAt = now

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, project_id, name, content_type, size_bytes, sha256, content, status, chunk_count, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, d.Name, nullableString(d.ContentType), d.SizeBytes,
		d.SHA256, d.Content, d.Status, d.ChunkCount, nullableString(d.Error),
		d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create document: %w", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		d.Seq = seq
	}
	return nil
}

// GetDocument returns a live document by id, including its content.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT seq, id, project_id, name, content_type, size_bytes, sha256, content, status, chunk_count, error, created_at, updated_at
		 FROM documents WHERE id = ? AND deleted_at IS NULL`, id)

	var d Document
	var contentType, docErr sql.NullString
	err := row.Scan(&d.Seq, &d.ID, &d.ProjectID, &d.Name, &contentType, &d.SizeBytes,
		&d.SHA256, &d.Content, &d.Status, &d.ChunkCount, &docErr, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan document: %w", err)
	}
	d.ContentType = contentType.String
	d.Error = docErr.String
	return &d, nil
}

// ListDocuments returns live document metadata for a project, newest
// first. Content is omitted; use GetDocument for the text.
func (s *Store) ListDocuments(ctx context.Context, projectID string, limit, offset int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, project_id, name, content_type, size_bytes, sha256, status, chunk_count, error, created_at, updated_at
		 FROM documents
		 WHERE project_id = ? AND deleted_at IS NULL
		 ORDER BY datetime(created_at) DESC, seq DESC
		 LIMIT ? OFFSET ?`, projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	defer rows.Close()

	var documents []Document
	for rows.Next() {
		var d Document
		var contentType, docErr sql.NullString
		if err := rows.Scan(&d.Seq, &d.ID, &d.ProjectID, &d.Name, &contentType, &d.SizeBytes,
			&d.SHA256, &d.Status, &d.ChunkCount, &docErr, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan document: %w", err)
		}
		d.ContentType = contentType.String
		d.Error = docErr.String
		documents = append(documents, d)
	}
	return documents, rows.Err()
}

// UpdateDocumentStatus records the outcome of an indexing run.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id, status string, chunkCount int, indexErr string) error {
	switch status {
	case DocPending, DocIndexed, DocFailed:
	default:
		return fmt.Errorf("%w: unknown document status %q", ErrInvalidInput, status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents
		 SET status = ?, chunk_count = ?, error = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		status, chunkCount, nullableString(indexErr), Now(), id)
	if err != nil {
		return fmt.Errorf("store: update document status: %w", err)
	}
	return requireRow(res)
}

// DeleteDocument soft-deletes a document.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		Now(), id)
	if err != nil {
		return fmt.Errorf("store: delete document: %w", err)
	}
	return requireRow(res)
}
