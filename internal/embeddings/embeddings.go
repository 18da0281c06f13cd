// Package embeddings generates vector embeddings for document chunks
// and search queries.
//
// Two providers are supported: "openai" talks to any OpenAI-compatible
// /v1/embeddings endpoint (llama.cpp with --embeddings, TEI, or the
// hosted API) through langchaingo, and "local" runs ONNX models
// in-process via fastembed. The local provider needs cgo; binaries
// built without it get ErrLocalNotAvailable.
package embeddings

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kilnworks/loom/internal/config"
	"github.com/kilnworks/loom/internal/vectorstore"
)

var (
	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrEmbeddingFailed indicates the underlying model call failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrLocalNotAvailable is returned when the local provider is
	// requested from a binary built without cgo.
	ErrLocalNotAvailable = errors.New("local embeddings unavailable: binary built without cgo (use the openai provider)")
)

// Provider generates embeddings and knows its output dimension.
type Provider interface {
	vectorstore.Embedder

	// Dimension returns the embedding dimension of the current model.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}

// modelDimensions maps known model names to their output dimensions.
var modelDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"nomic-embed-text-v1.5":                  768,
	"text-embedding-3-small":                 1536,
	"text-embedding-3-large":                 3072,
}

// detectDimension returns the embedding dimension for a model name,
// falling back to name heuristics and finally 384.
func detectDimension(model string) int {
	if dim, ok := modelDimensions[model]; ok {
		return dim
	}
	switch {
	case strings.Contains(model, "base"):
		return 768
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "small"), strings.Contains(model, "mini"):
		return 384
	default:
		return 384
	}
}

// NewProvider creates an embedding provider from the configuration.
func NewProvider(cfg config.EmbeddingsConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIProvider(cfg)
	case "local":
		return NewLocalProvider(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (must be openai or local)", ErrInvalidConfig, cfg.Provider)
	}
}
