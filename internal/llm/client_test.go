package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnworks/loom/internal/config"
	"github.com/kilnworks/loom/internal/logging"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c := New(config.LLMConfig{
		BaseURL:           baseURL,
		Model:             "test-model",
		Timeout:           5 * time.Second,
		RequestsPerSecond: 100,
		Burst:             10,
		MaxRetries:        3,
		MaxTokens:         64,
		Temperature:       0.2,
	}, logging.NewTestLogger().Logger)
	c.baseBackoff = time.Millisecond
	return c
}

func completionJSON(content, finishReason string) string {
	resp := chatResponse{
		Model:   "test-model",
		Choices: []chatChoice{{Message: Message{Role: "assistant", Content: content}, FinishReason: finishReason}},
		Usage:   Usage{PromptTokens: 12, CompletionTokens: 5, TotalTokens: 17},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestComplete(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(completionJSON("hello there", "stop")))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	result, err := c.Complete(context.Background(), []Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello there", result.Content)
	assert.Equal(t, "stop", result.FinishReason)
	assert.Equal(t, "test-model", result.Model)
	assert.Equal(t, 17, result.Usage.TotalTokens)

	assert.Equal(t, "test-model", gotReq.Model)
	assert.Len(t, gotReq.Messages, 2)
	assert.Equal(t, 64, gotReq.MaxTokens)
	assert.InDelta(t, 0.2, gotReq.Temperature, 1e-9)
	assert.False(t, gotReq.Stream)
}

func TestCompleteRetriesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "temporarily overloaded", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(completionJSON("recovered", "stop")))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	result, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleteRetries429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(completionJSON("after backoff", "stop")))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	result, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "after backoff", result.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleteNonRetryableError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"messages field is required","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "messages field is required")
	assert.Equal(t, int32(1), calls.Load(), "bad requests must not be retried")
}

func TestCompleteExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(4), calls.Load(), "initial attempt plus three retries")
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"test-model","choices":[]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response")
}

func TestCompleteContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	c.baseBackoff = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Complete(ctx, []Message{{Role: "user", Content: "hi"}})
		done <- err
	}()

	// Let the first attempt fail, then cancel during the backoff wait.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Complete did not return after cancellation")
	}
}

func TestCompleteSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sk-local-test", r.Header.Get("Authorization"))
		w.Write([]byte(completionJSON("ok", "stop")))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	c.apiKey = config.Secret("sk-local-test")

	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
}

func TestModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/models", r.URL.Path)
		w.Write([]byte(`{"data":[{"id":"llama-3.1-8b-instruct"},{"id":"qwen2.5-coder"}]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	models, err := c.Models(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama-3.1-8b-instruct", models[0].ID)
	assert.Equal(t, "qwen2.5-coder", models[1].ID)
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	assert.NoError(t, c.Healthy(context.Background()))
}

func TestHealthyLoading(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"loading model"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	err := c.Healthy(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading")
}

func TestHealthyFallsBackToModels(t *testing.T) {
	var modelsCalled atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			http.NotFound(w, r)
		case "/v1/models":
			modelsCalled.Store(true)
			w.Write([]byte(`{"data":[{"id":"test-model"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	require.NoError(t, c.Healthy(context.Background()))
	assert.True(t, modelsCalled.Load())
}

func TestHealthyUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := testClient(t, srv.URL)
	err := c.Healthy(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestIsRetryableError(t *testing.T) {
	inner := &retryableError{err: assert.AnError}
	assert.True(t, isRetryableError(inner))
	assert.True(t, isRetryableError(wrapErr(inner)))
	assert.False(t, isRetryableError(assert.AnError))
	assert.False(t, isRetryableError(nil))
}

func wrapErr(err error) error {
	return &wrappedErr{err}
}

type wrappedErr struct{ err error }

func (w *wrappedErr) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrappedErr) Unwrap() error { return w.err }
