//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"

	"github.com/kilnworks/loom/internal/config"
)

// localModels maps configured model names to fastembed constants. The
// bare fastembed names are accepted too.
var localModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// localDimensions maps fastembed models to their output dimensions.
var localDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.BGESmallENV15: 384,
	fastembed.BGESmallEN:    384,
	fastembed.BGEBaseENV15:  768,
	fastembed.BGEBaseEN:     768,
	fastembed.BGESmallZH:    512,
	fastembed.AllMiniLML6V2: 384,
}

// localModelFor resolves a configured model name to a fastembed model
// and its dimension.
func localModelFor(name string) (fastembed.EmbeddingModel, int, error) {
	if name == "" {
		name = "BAAI/bge-small-en-v1.5"
	}
	model, ok := localModels[name]
	if !ok {
		model = fastembed.EmbeddingModel(name)
		if _, known := localDimensions[model]; !known {
			return "", 0, fmt.Errorf("%w: unsupported local model %q (supported: BAAI/bge-small-en-v1.5, BAAI/bge-base-en-v1.5, sentence-transformers/all-MiniLM-L6-v2)", ErrInvalidConfig, name)
		}
	}
	return model, localDimensions[model], nil
}

// LocalProvider runs ONNX embedding models in-process via fastembed.
// Model files download to the cache directory on first use.
type LocalProvider struct {
	model     *fastembed.FlagEmbedding
	dimension int
	mu        sync.RWMutex
}

// NewLocalProvider initializes the ONNX model. The onnxruntime shared
// library must be installed; run loomctl setup or set ONNX_PATH.
func NewLocalProvider(cfg config.EmbeddingsConfig) (*LocalProvider, error) {
	model, dimension, err := localModelFor(cfg.Model)
	if err != nil {
		return nil, err
	}

	// fastembed locates libonnxruntime through ONNX_PATH.
	if os.Getenv("ONNX_PATH") == "" {
		if path := ONNXLibraryPath(); path != "" {
			if err := os.Setenv("ONNX_PATH", path); err != nil {
				return nil, fmt.Errorf("setting ONNX_PATH: %w", err)
			}
		}
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(config.DataDir(), "models")
	}

	showProgress := false
	flag, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            512,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing fastembed: %w", err)
	}

	return &LocalProvider{
		model:     flag,
		dimension: dimension,
	}, nil
}

// EmbedDocuments generates embeddings for multiple texts. fastembed
// adds the "passage: " prefix BGE models expect for documents.
func (p *LocalProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	vectors, err := p.model.PassageEmbed(texts, 256)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query with the
// "query: " prefix.
func (p *LocalProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	vector, err := p.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vector, nil
}

// Dimension returns the embedding dimension of the loaded model.
func (p *LocalProvider) Dimension() int {
	return p.dimension
}

// Close releases the ONNX session.
func (p *LocalProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.model != nil {
		return p.model.Destroy()
	}
	return nil
}

var _ Provider = (*LocalProvider)(nil)
