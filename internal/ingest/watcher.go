package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/kilnworks/loom/internal/config"
	"github.com/kilnworks/loom/internal/events"
	"github.com/kilnworks/loom/internal/store"
)

// Watcher ingests files dropped into an inbox directory. Events are
// debounced so editors that save in bursts trigger one ingest, and the
// files are left in place afterwards.
type Watcher struct {
	store    *store.Store
	pipeline *Pipeline
	events   *events.Publisher
	dir      string
	project  string // config value; resolved to a project id at Start
	fsw      *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	pending   map[string]time.Time
	projectID string
	running   bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher builds an inbox watcher. The inbox directory and project
// come from the ingest configuration.
func NewWatcher(st *store.Store, pipeline *Pipeline, pub *events.Publisher, cfg config.IngestConfig, logger *zap.Logger) (*Watcher, error) {
	if cfg.InboxDir == "" {
		return nil, errors.New("inbox directory is required")
	}
	if cfg.InboxProject == "" {
		return nil, errors.New("inbox project is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}

	return &Watcher{
		store:    st,
		pipeline: pipeline,
		events:   pub,
		dir:      cfg.InboxDir,
		project:  cfg.InboxProject,
		fsw:      fsw,
		debounce: 500 * time.Millisecond,
		logger:   logger.Named("inbox"),
		pending:  make(map[string]time.Time),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start resolves the target project, creates the inbox directory if
// needed, and begins watching. Non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.setup(ctx); err != nil {
		w.fsw.Close()
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}

	go w.run(ctx)
	return nil
}

func (w *Watcher) setup(ctx context.Context) error {
	project, err := w.resolveProject(ctx)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.projectID = project
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating inbox directory %s: %w", w.dir, err)
	}
	if err := w.fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watching inbox directory %s: %w", w.dir, err)
	}

	// Queue files dropped while the daemon was down. Dedupe skips the
	// ones already indexed.
	if entries, err := os.ReadDir(w.dir); err == nil {
		now := time.Now()
		w.mu.Lock()
		for _, entry := range entries {
			if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			w.pending[filepath.Join(w.dir, entry.Name())] = now
		}
		w.mu.Unlock()
	}

	w.logger.Info("inbox watcher started",
		zap.String("dir", w.dir), zap.String("project_id", project))
	return nil
}

// resolveProject accepts a project id or name in the configuration.
func (w *Watcher) resolveProject(ctx context.Context) (string, error) {
	if p, err := w.store.GetProject(ctx, w.project); err == nil {
		return p.ID, nil
	}
	p, err := w.store.GetProjectByName(ctx, w.project)
	if err != nil {
		return "", fmt.Errorf("inbox project %q not found: %w", w.project, err)
	}
	return p.ID, nil
}

// Stop stops watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.fsw.Close(); err != nil {
		w.logger.Warn("closing filesystem watcher", zap.Error(err))
	}
	w.logger.Info("inbox watcher stopped")
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	// The sweep interval bounds how stale a debounced event can get.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("inbox watch error", zap.Error(err))

		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// handleEvent records create/write events for debounced processing.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") {
		return
	}

	w.mu.Lock()
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

// sweep ingests files whose last event is older than the debounce
// window.
func (w *Watcher) sweep(ctx context.Context) {
	w.mu.Lock()
	var ready []string
	for path, at := range w.pending {
		if time.Since(at) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.ingestFile(ctx, path)
	}
}

func (w *Watcher) ingestFile(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("reading inbox file", zap.String("path", path), zap.Error(err))
		return
	}

	sum := sha256.Sum256(data)
	shaHex := hex.EncodeToString(sum[:])
	name := filepath.Base(path)

	w.mu.Lock()
	projectID := w.projectID
	w.mu.Unlock()

	if w.alreadyIngested(ctx, projectID, name, shaHex) {
		w.logger.Debug("inbox file unchanged, skipping", zap.String("name", name))
		return
	}

	text, extractErr := ExtractText(name, data)
	doc := &store.Document{
		ProjectID:   projectID,
		Name:        name,
		ContentType: http.DetectContentType(data),
		SizeBytes:   int64(len(data)),
		SHA256:      shaHex,
		Content:     text,
	}
	if err := w.store.CreateDocument(ctx, doc); err != nil {
		w.logger.Warn("creating inbox document", zap.String("name", name), zap.Error(err))
		return
	}
	w.events.DocumentUploaded(projectID, doc.ID)

	if extractErr != nil {
		if err := w.store.UpdateDocumentStatus(ctx, doc.ID, store.DocFailed, 0, extractErr.Error()); err != nil {
			w.logger.Error("recording failed inbox document", zap.String("document_id", doc.ID), zap.Error(err))
		}
		w.events.DocumentFailed(projectID, doc.ID)
		w.logger.Warn("inbox file rejected",
			zap.String("name", name), zap.Error(extractErr))
		return
	}

	// Without a pipeline (retrieval disabled) the document is marked
	// indexed with zero chunks; full-text search serves it either way.
	if w.pipeline == nil {
		if err := w.store.UpdateDocumentStatus(ctx, doc.ID, store.DocIndexed, 0, ""); err != nil {
			w.logger.Warn("marking inbox document indexed", zap.String("document_id", doc.ID), zap.Error(err))
		}
		w.events.DocumentIndexed(projectID, doc.ID)
		return
	}

	if err := w.pipeline.Index(ctx, doc); err != nil {
		w.logger.Warn("indexing inbox document", zap.String("document_id", doc.ID), zap.Error(err))
	}
}

// alreadyIngested reports whether an identical file was indexed before.
// Failed documents are retried on the next drop.
func (w *Watcher) alreadyIngested(ctx context.Context, projectID, name, shaHex string) bool {
	docs, err := w.store.ListDocuments(ctx, projectID, 500, 0)
	if err != nil {
		return false
	}
	for _, d := range docs {
		if d.Name == name && d.SHA256 == shaHex && d.Status == store.DocIndexed {
			return true
		}
	}
	return false
}
