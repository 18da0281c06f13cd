package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/kilnworks/loom/internal/ingest"
	"github.com/kilnworks/loom/internal/logging"
	"github.com/kilnworks/loom/internal/sanitize"
	"github.com/kilnworks/loom/internal/store"
)

// handleDocumentUpload accepts a multipart upload, extracts its text,
// and stores the document. Indexing runs in the background; the
// response reports the document in its pending state and clients watch
// status via GET or the event feed.
func (s *Server) handleDocumentUpload(c echo.Context) error {
	ctx := c.Request().Context()

	project, err := s.cache.Project(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field 'file' is required")
	}
	name, err := sanitize.Filename(file.Filename)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid file name")
	}

	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "reading upload")
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "reading upload")
	}

	text, err := ingest.ExtractText(name, data)
	if err != nil {
		return err
	}

	sum := sha256.Sum256(data)
	doc := &store.Document{
		ProjectID:   project.ID,
		Name:        name,
		ContentType: http.DetectContentType(data),
		SizeBytes:   int64(len(data)),
		SHA256:      hex.EncodeToString(sum[:]),
		Content:     text,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return err
	}
	s.events.DocumentUploaded(project.ID, doc.ID)
	s.logger.Info(ctx, "document uploaded",
		zap.String("document_id", doc.ID),
		zap.String("name", doc.Name),
		zap.Int64("size_bytes", doc.SizeBytes))

	s.indexDocument(ctx, doc)

	return c.JSON(http.StatusCreated, doc)
}

// indexDocument hands the document to the retrieval index without
// holding the request open. With no indexer the document is marked
// indexed with zero chunks; full-text search serves it either way.
func (s *Server) indexDocument(ctx context.Context, doc *store.Document) {
	if s.indexer == nil {
		if err := s.store.UpdateDocumentStatus(ctx, doc.ID, store.DocIndexed, 0, ""); err != nil {
			s.logger.Warn(ctx, "marking document indexed", zap.Error(err))
		}
		doc.Status = store.DocIndexed
		return
	}

	// Carry the request id for log correlation, not the request
	// deadline: the client is long gone by the time embedding finishes.
	rid := logging.RequestIDFromContext(ctx)

	s.indexJobs.Add(1)
	go func() {
		defer s.indexJobs.Done()

		jobCtx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		defer cancel()
		if rid != "" {
			jobCtx = logging.WithRequestID(jobCtx, rid)
		}

		// Index records the failed status itself; the error here is
		// only for the log.
		if err := s.indexer.Index(jobCtx, doc); err != nil {
			s.logger.Warn(jobCtx, "indexing uploaded document",
				zap.String("document_id", doc.ID), zap.Error(err))
		}
	}()
}

func (s *Server) handleDocumentList(c echo.Context) error {
	ctx := c.Request().Context()

	project, err := s.cache.Project(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	limit, offset := listParams(c, 100)
	documents, err := s.store.ListDocuments(ctx, project.ID, limit, offset)
	if err != nil {
		return err
	}
	if documents == nil {
		documents = []store.Document{}
	}
	return c.JSON(http.StatusOK, documents)
}

func (s *Server) handleDocumentGet(c echo.Context) error {
	doc, err := s.store.GetDocument(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) handleDocumentDelete(c echo.Context) error {
	ctx := c.Request().Context()

	doc, err := s.store.GetDocument(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}

	if s.indexer != nil {
		if err := s.indexer.Remove(ctx, doc.ProjectID, doc.ID); err != nil {
			s.logger.Warn(ctx, "removing document vectors",
				zap.String("document_id", doc.ID), zap.Error(err))
		}
	}
	s.events.DocumentDeleted(doc.ProjectID, doc.ID)

	return c.NoContent(http.StatusNoContent)
}
