// Package ingest turns uploaded documents into searchable chunks: text
// is split, scrubbed, embedded, and upserted into the vector store, and
// the document's indexing status is recorded on the way out.
package ingest

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"

	"github.com/kilnworks/loom/internal/config"
	"github.com/kilnworks/loom/internal/events"
	"github.com/kilnworks/loom/internal/secrets"
	"github.com/kilnworks/loom/internal/store"
	"github.com/kilnworks/loom/internal/vectorstore"
)

// MetaDocumentName is the chunk metadata key carrying the source
// document's display name. Chat uses it to label retrieved excerpts.
const MetaDocumentName = "document_name"

const metaChunkIndex = "chunk_index"

// Pipeline chunks document text and maintains the vector store. Safe
// for concurrent use.
type Pipeline struct {
	store    *store.Store
	vectors  vectorstore.Store
	scrubber secrets.Scrubber
	events   *events.Publisher
	splitter textsplitter.RecursiveCharacter
	topK     int
	minScore float32
	logger   *zap.Logger
}

// NewPipeline wires the indexing pipeline. scrubber may be nil when
// outbound scrubbing is disabled.
func NewPipeline(st *store.Store, vectors vectorstore.Store, scrubber secrets.Scrubber, pub *events.Publisher, cfg config.RetrievalConfig, logger *zap.Logger) *Pipeline {
	if scrubber == nil {
		scrubber = secrets.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	chunkOverlap := cfg.ChunkOverlap
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 4
	}

	return &Pipeline{
		store:    st,
		vectors:  vectors,
		scrubber: scrubber,
		events:   pub,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
		topK:     topK,
		minScore: cfg.MinScore,
		logger:   logger.Named("ingest"),
	}
}

// Index chunks the document's text and upserts the chunks, then marks
// the document indexed. On failure the document is marked failed with
// the error recorded for the UI.
func (p *Pipeline) Index(ctx context.Context, doc *store.Document) error {
	chunks, err := p.chunk(doc)
	if err == nil && len(chunks) > 0 {
		_, err = p.vectors.AddDocuments(ctx, doc.ProjectID, chunks)
	}
	if err != nil {
		if uerr := p.store.UpdateDocumentStatus(ctx, doc.ID, store.DocFailed, 0, err.Error()); uerr != nil {
			p.logger.Error("recording failed indexing run",
				zap.String("document_id", doc.ID), zap.Error(uerr))
		}
		p.events.DocumentFailed(doc.ProjectID, doc.ID)
		return fmt.Errorf("indexing document %s: %w", doc.ID, err)
	}

	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, store.DocIndexed, len(chunks), ""); err != nil {
		return fmt.Errorf("recording indexed document %s: %w", doc.ID, err)
	}
	p.events.DocumentIndexed(doc.ProjectID, doc.ID)
	p.logger.Info("document indexed",
		zap.String("document_id", doc.ID),
		zap.String("project_id", doc.ProjectID),
		zap.Int("chunks", len(chunks)),
	)
	return nil
}

// chunk splits and scrubs the document text. An empty document yields
// zero chunks, which indexes as an empty document rather than failing.
func (p *Pipeline) chunk(doc *store.Document) ([]vectorstore.Document, error) {
	pieces, err := p.splitter.SplitText(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("splitting text: %w", err)
	}

	chunks := make([]vectorstore.Document, 0, len(pieces))
	redacted := 0
	for i, piece := range pieces {
		clean, n := p.scrubber.Scrub(piece)
		redacted += n
		chunks = append(chunks, vectorstore.Document{
			ID:      fmt.Sprintf("%s-%04d", doc.ID, i),
			Content: clean,
			Metadata: map[string]string{
				vectorstore.MetaDocID: doc.ID,
				MetaDocumentName:      doc.Name,
				metaChunkIndex:        strconv.Itoa(i),
			},
		})
	}
	if redacted > 0 {
		p.logger.Info("redacted secrets from document chunks",
			zap.String("document_id", doc.ID), zap.Int("findings", redacted))
	}
	return chunks, nil
}

// Retrieve returns up to top-k chunks relevant to the query whose
// similarity clears the configured floor. May return an empty slice.
func (p *Pipeline) Retrieve(ctx context.Context, projectID, query string) ([]vectorstore.SearchResult, error) {
	results, err := p.vectors.SimilaritySearch(ctx, projectID, query, p.topK)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	kept := results[:0]
	for _, r := range results {
		if r.Score >= p.minScore {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

// Remove deletes the document's chunks from the vector store.
func (p *Pipeline) Remove(ctx context.Context, projectID, docID string) error {
	if err := p.vectors.DeleteDocument(ctx, projectID, docID); err != nil {
		return fmt.Errorf("removing chunks for document %s: %w", docID, err)
	}
	return nil
}

// RemoveProject drops the project's chunk collection entirely.
func (p *Pipeline) RemoveProject(ctx context.Context, projectID string) error {
	if err := p.vectors.DeleteProject(ctx, projectID); err != nil {
		return fmt.Errorf("removing chunk collection for project %s: %w", projectID, err)
	}
	return nil
}
