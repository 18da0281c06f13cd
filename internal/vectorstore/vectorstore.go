// Package vectorstore stores and searches document chunk embeddings.
//
// Each project gets its own collection; chunks are keyed by document so
// removing a document removes exactly its chunks. Two providers are
// available: chromem (embedded, default) and qdrant (external sidecar
// over gRPC).
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/kilnworks/loom/internal/sanitize"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrConnectionFailed indicates the vector store is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts, one per
	// input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query. Some models
	// encode queries differently from documents.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Document is one chunk to store. ID must be unique within the
// project's collection; Metadata holds at least the source document id
// under "doc_id".
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// SearchResult is one similarity hit, highest score first.
type SearchResult struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]string
}

// MetaDocID is the metadata key linking a chunk to its source document.
const MetaDocID = "doc_id"

// Store is the interface for vector storage operations. All methods are
// scoped to a project; implementations map projects to collections.
type Store interface {
	// AddDocuments embeds and stores chunks in the project's
	// collection, creating it on first use. Returns the stored IDs.
	AddDocuments(ctx context.Context, project string, docs []Document) ([]string, error)

	// SimilaritySearch returns up to k chunks similar to query, highest
	// score first. A project with no indexed documents yields no
	// results, not an error.
	SimilaritySearch(ctx context.Context, project, query string, k int) ([]SearchResult, error)

	// DeleteDocument removes all chunks whose doc_id metadata matches.
	DeleteDocument(ctx context.Context, project, docID string) error

	// DeleteProject removes the project's collection and all its
	// chunks. Deleting an absent project is a no-op.
	DeleteProject(ctx context.Context, project string) error

	// Close releases the store's resources.
	Close() error
}

// collectionNamePattern validates collection names: lowercase letters,
// numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name against the
// pattern shared by both providers. Rejects uppercase, special chars,
// path traversal, and spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// collectionName derives the collection for a project id.
func collectionName(project string) string {
	return sanitize.CollectionName(project, "chunks")
}
