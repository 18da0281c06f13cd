package embeddings

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnworks/loom/internal/config"
)

func TestDetectDimension(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"BAAI/bge-small-en-v1.5", 384},
		{"BAAI/bge-base-en-v1.5", 768},
		{"BAAI/bge-small-zh-v1.5", 512},
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"custom-base-model", 768},
		{"custom-large-model", 1024},
		{"custom-mini-model", 384},
		{"something-unknown", 384},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, detectDimension(tt.model))
		})
	}
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider(config.EmbeddingsConfig{Provider: "cohere"})
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "cohere")
}

func TestNewOpenAIProviderValidation(t *testing.T) {
	t.Run("missing base URL", func(t *testing.T) {
		_, err := NewOpenAIProvider(config.EmbeddingsConfig{Model: "BAAI/bge-small-en-v1.5"})
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("missing model", func(t *testing.T) {
		_, err := NewOpenAIProvider(config.EmbeddingsConfig{BaseURL: "http://localhost:8080"})
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
}

// embeddingsStub serves an OpenAI-compatible /embeddings endpoint
// returning one fixed-length vector per input.
func embeddingsStub(t *testing.T, gotAuth *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		if gotAuth != nil {
			*gotAuth = r.Header.Get("Authorization")
		}

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type datum struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]datum, len(req.Input))
		for i := range req.Input {
			data[i] = datum{
				Object:    "embedding",
				Embedding: []float32{0.1, 0.2, 0.3, float32(i)},
				Index:     i,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"object":"list","model":%q,"usage":{"prompt_tokens":0,"total_tokens":0},"data":`, req.Model)
		require.NoError(t, json.NewEncoder(w).Encode(data))
		fmt.Fprint(w, `}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIEmbedDocuments(t *testing.T) {
	var gotAuth string
	srv := embeddingsStub(t, &gotAuth)

	provider, err := NewOpenAIProvider(config.EmbeddingsConfig{
		BaseURL: srv.URL,
		Model:   "BAAI/bge-small-en-v1.5",
	})
	require.NoError(t, err)
	defer provider.Close()

	vectors, err := provider.EmbedDocuments(context.Background(), []string{"first chunk", "second chunk"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0}, vectors[0])
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 1}, vectors[1])

	// langchaingo needs a token even when the server ignores it.
	assert.Equal(t, "Bearer placeholder", gotAuth)
	assert.Equal(t, 384, provider.Dimension())
}

func TestOpenAIEmbedQuery(t *testing.T) {
	srv := embeddingsStub(t, nil)

	provider, err := NewOpenAIProvider(config.EmbeddingsConfig{
		BaseURL: srv.URL,
		Model:   "BAAI/bge-small-en-v1.5",
	})
	require.NoError(t, err)
	defer provider.Close()

	vector, err := provider.EmbedQuery(context.Background(), "what is in my notes")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0}, vector)
}

func TestOpenAISendsConfiguredKey(t *testing.T) {
	var gotAuth string
	srv := embeddingsStub(t, &gotAuth)

	provider, err := NewOpenAIProvider(config.EmbeddingsConfig{
		BaseURL: srv.URL,
		Model:   "BAAI/bge-small-en-v1.5",
		APIKey:  config.Secret("sk-embed-test"),
	})
	require.NoError(t, err)
	defer provider.Close()

	_, err = provider.EmbedQuery(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-embed-test", gotAuth)
}

func TestOpenAIEmptyInput(t *testing.T) {
	srv := embeddingsStub(t, nil)

	provider, err := NewOpenAIProvider(config.EmbeddingsConfig{
		BaseURL: srv.URL,
		Model:   "BAAI/bge-small-en-v1.5",
	})
	require.NoError(t, err)
	defer provider.Close()

	_, err = provider.EmbedDocuments(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptyInput)

	_, err = provider.EmbedQuery(context.Background(), "")
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestOpenAIServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"model not loaded"}}`, http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	provider, err := NewOpenAIProvider(config.EmbeddingsConfig{
		BaseURL: srv.URL,
		Model:   "BAAI/bge-small-en-v1.5",
	})
	require.NoError(t, err)
	defer provider.Close()

	_, err = provider.EmbedDocuments(context.Background(), []string{"chunk"})
	require.ErrorIs(t, err, ErrEmbeddingFailed)
}
