//go:build !cgo

package embeddings

import (
	"context"

	"github.com/kilnworks/loom/internal/config"
)

// LocalProvider is a stub for binaries built without cgo. All methods
// return ErrLocalNotAvailable.
type LocalProvider struct{}

// NewLocalProvider always fails without cgo.
func NewLocalProvider(_ config.EmbeddingsConfig) (*LocalProvider, error) {
	return nil, ErrLocalNotAvailable
}

func (p *LocalProvider) EmbedDocuments(_ context.Context, _ []string) ([][]float32, error) {
	return nil, ErrLocalNotAvailable
}

func (p *LocalProvider) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrLocalNotAvailable
}

func (p *LocalProvider) Dimension() int {
	return 0
}

func (p *LocalProvider) Close() error {
	return nil
}

// ONNXLibraryPath always reports the runtime as absent without cgo.
func ONNXLibraryPath() string {
	return ""
}

// ONNXRuntimeExists always reports false without cgo.
func ONNXRuntimeExists() bool {
	return false
}

// EnsureONNXRuntime always fails without cgo.
func EnsureONNXRuntime(_ context.Context) (string, error) {
	return "", ErrLocalNotAvailable
}

// DownloadONNXRuntime always fails without cgo.
func DownloadONNXRuntime(_ context.Context) (string, error) {
	return "", ErrLocalNotAvailable
}
