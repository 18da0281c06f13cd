// Package store persists projects, conversations, messages, and documents
// in an embedded SQLite database. Full-text search over message and
// document content uses FTS5 external-content tables kept in sync by
// triggers.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database. Safe for concurrent use; SQLite
// serializes writers and WAL mode keeps readers unblocked.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open opens (creating if necessary) the database at path and runs
// migrations. Pass ":memory:" for an ephemeral store in tests.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: path cannot be empty", ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, path: path, logger: logger.Named("store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migration: %w", err)
	}

	s.logger.Info("store opened", zap.String("path", path))
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS projects (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT,
			repo_path   TEXT,
			repo_remote TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,
			deleted_at  TEXT
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_name
			ON projects(name) WHERE deleted_at IS NULL;

		CREATE TABLE IF NOT EXISTS conversations (
			id            TEXT PRIMARY KEY,
			project_id    TEXT NOT NULL REFERENCES projects(id),
			title         TEXT NOT NULL,
			model         TEXT,
			system_prompt TEXT,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,
			deleted_at    TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_conversations_project
			ON conversations(project_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			seq               INTEGER PRIMARY KEY AUTOINCREMENT,
			id                TEXT NOT NULL UNIQUE,
			conversation_id   TEXT NOT NULL REFERENCES conversations(id),
			role              TEXT NOT NULL,
			content           TEXT NOT NULL,
			model             TEXT,
			prompt_tokens     INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			finish_reason     TEXT,
			created_at        TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, seq);

		CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
			content,
			content='messages',
			content_rowid='seq'
		);

		CREATE TABLE IF NOT EXISTS documents (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			id           TEXT NOT NULL UNIQUE,
			project_id   TEXT NOT NULL REFERENCES projects(id),
			name         TEXT NOT NULL,
			content_type TEXT,
			size_bytes   INTEGER NOT NULL DEFAULT 0,
			sha256       TEXT NOT NULL,
			content      TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'pending',
			chunk_count  INTEGER NOT NULL DEFAULT 0,
			error        TEXT,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,
			deleted_at   TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_documents_project
			ON documents(project_id, created_at DESC);

		CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
			name,
			content,
			content='documents',
			content_rowid='seq'
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	return s.migrateTriggers()
}

// migrateTriggers creates the FTS sync triggers once. Trigger existence is
// checked against sqlite_master because CREATE TRIGGER has no IF NOT
// EXISTS that covers body changes.
func (s *Store) migrateTriggers() error {
	var name string
	err := s.db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type = 'trigger' AND name = 'messages_fts_insert'`,
	).Scan(&name)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		triggers := `
			CREATE TRIGGER messages_fts_insert AFTER INSERT ON messages BEGIN
				INSERT INTO messages_fts(rowid, content)
				VALUES (new.seq, new.content);
			END;

			CREATE TRIGGER messages_fts_delete AFTER DELETE ON messages BEGIN
				INSERT INTO messages_fts(messages_fts, rowid, content)
				VALUES ('delete', old.seq, old.content);
			END;
		`
		if _, err := s.db.Exec(triggers); err != nil {
			return err
		}
	}

	err = s.db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type = 'trigger' AND name = 'documents_fts_insert'`,
	).Scan(&name)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		triggers := `
			CREATE TRIGGER documents_fts_insert AFTER INSERT ON documents BEGIN
				INSERT INTO documents_fts(rowid, name, content)
				VALUES (new.seq, new.name, new.content);
			END;

			CREATE TRIGGER documents_fts_delete AFTER DELETE ON documents BEGIN
				INSERT INTO documents_fts(documents_fts, rowid, name, content)
				VALUES ('delete', old.seq, old.name, old.content);
			END;

			CREATE TRIGGER documents_fts_update AFTER UPDATE OF name, content ON documents BEGIN
				INSERT INTO documents_fts(documents_fts, rowid, name, content)
				VALUES ('delete', old.seq, old.name, old.content);
				INSERT INTO documents_fts(rowid, name, content)
				VALUES (new.seq, new.name, new.content);
			END;
		`
		if _, err := s.db.Exec(triggers); err != nil {
			return err
		}
	}

	return nil
}

// Stats returns row counts for live entities and the database file size.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}

	queries := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM projects WHERE deleted_at IS NULL`, &st.Projects},
		{`SELECT COUNT(*) FROM conversations WHERE deleted_at IS NULL`, &st.Conversations},
		{`SELECT COUNT(*) FROM messages`, &st.Messages},
		{`SELECT COUNT(*) FROM documents WHERE deleted_at IS NULL`, &st.Documents},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("store: stats: %w", err)
		}
	}

	if s.path != ":memory:" {
		if info, err := os.Stat(s.path); err == nil {
			st.SizeBytes = info.Size()
		}
	}

	return st, nil
}

// Now returns the current time formatted for SQLite.
func Now() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05")
}

// sanitizeFTS wraps each word in quotes so FTS5 doesn't choke on special
// characters: `fix auth bug` becomes `"fix" "auth" "bug"`.
func sanitizeFTS(query string) string {
	words := strings.Fields(query)
	for i, w := range words {
		w = strings.Trim(w, `"`)
		words[i] = `"` + w + `"`
	}
	return strings.Join(words, " ")
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
