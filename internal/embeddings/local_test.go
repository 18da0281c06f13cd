//go:build cgo

package embeddings

import (
	"testing"

	fastembed "github.com/anush008/fastembed-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalModelFor(t *testing.T) {
	tests := []struct {
		name      string
		model     string
		want      fastembed.EmbeddingModel
		dimension int
		wantErr   bool
	}{
		{name: "default", model: "", want: fastembed.BGESmallENV15, dimension: 384},
		{name: "bge small", model: "BAAI/bge-small-en-v1.5", want: fastembed.BGESmallENV15, dimension: 384},
		{name: "bge base", model: "BAAI/bge-base-en-v1.5", want: fastembed.BGEBaseENV15, dimension: 768},
		{name: "minilm", model: "sentence-transformers/all-MiniLM-L6-v2", want: fastembed.AllMiniLML6V2, dimension: 384},
		{name: "bare fastembed name", model: string(fastembed.BGEBaseENV15), want: fastembed.BGEBaseENV15, dimension: 768},
		{name: "unknown", model: "my-org/secret-model", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, dimension, err := localModelFor(tt.model)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, model)
			assert.Equal(t, tt.dimension, dimension)
		})
	}
}

func TestLocalDimensionsCovered(t *testing.T) {
	// Every mapped model must have a known dimension.
	for name, model := range localModels {
		_, ok := localDimensions[model]
		assert.True(t, ok, "model %s has no dimension entry", name)
	}
}
