package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CreateProject inserts a new project. A missing ID is generated. Returns
// ErrNameTaken when a live project already uses the name.
func (s *Store) CreateProject(ctx context.Context, p *Project) error {
	if p == nil || strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: project name is required", ErrInvalidInput)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, description, repo_path, repo_remote, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, nullableString(p.Description), nullableString(p.RepoPath),
		nullableString(p.RepoRemote), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %q", ErrNameTaken, p.Name)
		}
		return fmt.Errorf("store: create project: %w", err)
	}
	return nil
}

// GetProject returns a live project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, repo_path, repo_remote, created_at, updated_at
		 FROM projects WHERE id = ? AND deleted_at IS NULL`, id)
	return scanProject(row)
}

// GetProjectByName returns a live project by its unique name.
func (s *Store) GetProjectByName(ctx context.Context, name string) (*Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, repo_path, repo_remote, created_at, updated_at
		 FROM projects WHERE name = ? AND deleted_at IS NULL`, name)
	return scanProject(row)
}

// ListProjects returns live projects, newest first.
func (s *Store) ListProjects(ctx context.Context, limit, offset int) ([]Project, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, repo_path, repo_remote, created_at, updated_at
		 FROM projects WHERE deleted_at IS NULL
		 ORDER BY datetime(created_at) DESC, id
		 LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		p, err := scanProjectRow(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// UpdateProject updates the mutable fields of a live project.
func (s *Store) UpdateProject(ctx context.Context, p *Project) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: project id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: project name is required", ErrInvalidInput)
	}
	p.UpdatedAt = Now()

	res, err := s.db.ExecContext(ctx,
		`UPDATE projects
		 SET name = ?, description = ?, repo_path = ?, repo_remote = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		p.Name, nullableString(p.Description), nullableString(p.RepoPath),
		nullableString(p.RepoRemote), p.UpdatedAt, p.ID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %q", ErrNameTaken, p.Name)
		}
		return fmt.Errorf("store: update project: %w", err)
	}
	return requireRow(res)
}

// DeleteProject soft-deletes a project and cascades the soft delete to
// its conversations and documents in one transaction.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: delete project: %w", err)
	}
	defer tx.Rollback()

	now := Now()
	res, err := tx.ExecContext(ctx,
		`UPDATE projects SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, now, id)
	if err != nil {
		return fmt.Errorf("store: delete project: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET deleted_at = ? WHERE project_id = ? AND deleted_at IS NULL`, now, id); err != nil {
		return fmt.Errorf("store: delete project conversations: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET deleted_at = ? WHERE project_id = ? AND deleted_at IS NULL`, now, id); err != nil {
		return fmt.Errorf("store: delete project documents: %w", err)
	}

	return tx.Commit()
}

func scanProject(row *sql.Row) (*Project, error) {
	var p Project
	var description, repoPath, repoRemote sql.NullString
	err := row.Scan(&p.ID, &p.Name, &description, &repoPath, &repoRemote, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan project: %w", err)
	}
	p.Description = description.String
	p.RepoPath = repoPath.String
	p.RepoRemote = repoRemote.String
	return &p, nil
}

func scanProjectRow(rows *sql.Rows) (*Project, error) {
	var p Project
	var description, repoPath, repoRemote sql.NullString
	if err := rows.Scan(&p.ID, &p.Name, &description, &repoPath, &repoRemote, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("store: scan project: %w", err)
	}
	p.Description = description.String
	p.RepoPath = repoPath.String
	p.RepoRemote = repoRemote.String
	return &p, nil
}

// requireRow converts a zero-row update into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
