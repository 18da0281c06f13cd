package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kilnworks/loom/internal/cache"
	"github.com/kilnworks/loom/internal/chat"
	"github.com/kilnworks/loom/internal/config"
	"github.com/kilnworks/loom/internal/llm"
	"github.com/kilnworks/loom/internal/logging"
	"github.com/kilnworks/loom/internal/store"
)

type stubStreamer struct {
	deltas []llm.Delta
}

func (s *stubStreamer) Stream(ctx context.Context, _ []llm.Message) (<-chan llm.Delta, <-chan error) {
	deltaChan := make(chan llm.Delta, len(s.deltas))
	errChan := make(chan error, 1)
	for _, d := range s.deltas {
		deltaChan <- d
	}
	close(deltaChan)
	close(errChan)
	return deltaChan, errChan
}

func (s *stubStreamer) Model() string { return "stub-model" }

type stubLLM struct {
	models    []llm.ModelInfo
	healthErr error
	modelsErr error
}

func (s *stubLLM) Models(context.Context) ([]llm.ModelInfo, error) {
	return s.models, s.modelsErr
}

func (s *stubLLM) Healthy(context.Context) error { return s.healthErr }

type stubIndexer struct {
	st   *store.Store
	fail bool

	mu              sync.Mutex
	indexed         []string
	removed         []string
	removedProjects []string
}

func (s *stubIndexer) Index(ctx context.Context, doc *store.Document) error {
	s.mu.Lock()
	s.indexed = append(s.indexed, doc.ID)
	s.mu.Unlock()

	if s.fail {
		_ = s.st.UpdateDocumentStatus(ctx, doc.ID, store.DocFailed, 0, "embedder offline")
		return errors.New("embedder offline")
	}
	return s.st.UpdateDocumentStatus(ctx, doc.ID, store.DocIndexed, 1, "")
}

func (s *stubIndexer) Remove(_ context.Context, _, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, docID)
	return nil
}

func (s *stubIndexer) RemoveProject(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removedProjects = append(s.removedProjects, projectID)
	return nil
}

func (s *stubIndexer) removedDocs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.removed...)
}

// testConfig disables the browser-facing hardening so most tests can
// talk to the API directly. The hardening tests flip pieces back on.
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Security.CSRFEnabled = false
	cfg.Security.RateLimit = 0
	cfg.Security.AllowedOrigins = nil
	return cfg
}

type apiFixture struct {
	srv     *Server
	st      *store.Store
	indexer *stubIndexer
	llm     *stubLLM
}

func newAPIFixture(t *testing.T, cfg *config.Config) *apiFixture {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "loom.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := logging.NewTestLogger().Logger
	streamer := &stubStreamer{deltas: []llm.Delta{{Content: "ok"}, {FinishReason: "stop"}}}
	chatSvc := chat.NewService(st, streamer, nil, nil, nil, config.LLMConfig{}, logger)
	indexer := &stubIndexer{st: st}
	mock := &stubLLM{models: []llm.ModelInfo{{ID: "llama-3.1-8b"}}}

	srv, err := NewServer(cfg, Deps{
		Store:   st,
		Cache:   cache.NewLookups(st, time.Minute, 64),
		Chat:    chatSvc,
		LLM:     mock,
		Indexer: indexer,
		Logger:  logger,
		Version: "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	return &apiFixture{srv: srv, st: st, indexer: indexer, llm: mock}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[errorEnvelope](t, rec).Error.Code
}

func (f *apiFixture) seedProject(t *testing.T, name string) *store.Project {
	t.Helper()
	p := &store.Project{Name: name}
	require.NoError(t, f.st.CreateProject(context.Background(), p))
	return p
}

func (f *apiFixture) seedConversation(t *testing.T, projectID, title string) *store.Conversation {
	t.Helper()
	c := &store.Conversation{ProjectID: projectID, Title: title}
	require.NoError(t, f.st.CreateConversation(context.Background(), c))
	return c
}

func TestNewServerValidation(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "loom.db"), zap.NewNop())
	require.NoError(t, err)
	defer st.Close()

	logger := logging.NewTestLogger().Logger
	chatSvc := chat.NewService(st, &stubStreamer{}, nil, nil, nil, config.LLMConfig{}, logger)

	t.Run("requires store", func(t *testing.T) {
		_, err := NewServer(testConfig(), Deps{Chat: chatSvc, Logger: logger})
		require.ErrorContains(t, err, "store is required")
	})

	t.Run("requires chat service", func(t *testing.T) {
		_, err := NewServer(testConfig(), Deps{Store: st, Logger: logger})
		require.ErrorContains(t, err, "chat service is required")
	})

	t.Run("requires logger", func(t *testing.T) {
		_, err := NewServer(testConfig(), Deps{Store: st, Chat: chatSvc})
		require.ErrorContains(t, err, "logger is required")
	})

	t.Run("requires config", func(t *testing.T) {
		_, err := NewServer(nil, Deps{Store: st, Chat: chatSvc, Logger: logger})
		require.ErrorContains(t, err, "config is required")
	})
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[healthResponse](t, rec).Status)
}

func TestReadyz(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		f := newAPIFixture(t, nil)

		rec := f.do(t, http.MethodGet, "/readyz", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[readyResponse](t, rec)
		assert.Equal(t, "ready", resp.Status)
		assert.Equal(t, "ok", resp.Checks["store"])
		assert.Equal(t, "ok", resp.Checks["llm"])
	})

	t.Run("degraded without inference server", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		f.llm.healthErr = errors.New("connection refused")

		rec := f.do(t, http.MethodGet, "/readyz", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code, "history browsing works without the model")
		resp := decode[readyResponse](t, rec)
		assert.Equal(t, "degraded", resp.Status)
	})

	t.Run("unavailable without store", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		require.NoError(t, f.st.Close())

		rec := f.do(t, http.MethodGet, "/readyz", nil, nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "unavailable", decode[readyResponse](t, rec).Status)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines", "prometheus runtime collectors are exposed")
}

func TestErrorEnvelope(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/projects/missing", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	env := decode[errorEnvelope](t, rec)
	assert.Equal(t, "not_found", env.Error.Code)
	assert.NotEmpty(t, env.Error.Message)
}

func TestSecurityHeaders(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))
}

func TestCORS(t *testing.T) {
	cfg := testConfig()
	cfg.Security.AllowedOrigins = []string{"http://localhost:3000"}
	f := newAPIFixture(t, cfg)

	t.Run("allowed origin", func(t *testing.T) {
		h := http.Header{}
		h.Set(echo.HeaderOrigin, "http://localhost:3000")
		rec := f.do(t, http.MethodGet, "/api/v1/projects", nil, h)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "http://localhost:3000", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
		assert.Equal(t, "true", rec.Header().Get(echo.HeaderAccessControlAllowCredentials))
	})

	t.Run("unknown origin gets no grant", func(t *testing.T) {
		h := http.Header{}
		h.Set(echo.HeaderOrigin, "http://evil.example")
		rec := f.do(t, http.MethodGet, "/api/v1/projects", nil, h)
		assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	})

	t.Run("preflight", func(t *testing.T) {
		h := http.Header{}
		h.Set(echo.HeaderOrigin, "http://localhost:3000")
		h.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
		rec := f.do(t, http.MethodOptions, "/api/v1/projects", nil, h)
		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.Contains(t, rec.Header().Get(echo.HeaderAccessControlAllowMethods), http.MethodPost)
	})
}

func TestBearerAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Security.AuthToken = "s3cret-token"
	f := newAPIFixture(t, cfg)

	t.Run("missing token", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/projects", nil, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "unauthorized", errorCode(t, rec))
	})

	t.Run("wrong token", func(t *testing.T) {
		h := http.Header{}
		h.Set(echo.HeaderAuthorization, "Bearer nope")
		rec := f.do(t, http.MethodGet, "/api/v1/projects", nil, h)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		h := http.Header{}
		h.Set(echo.HeaderAuthorization, "Bearer s3cret-token")
		rec := f.do(t, http.MethodGet, "/api/v1/projects", nil, h)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("probes stay open", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/healthz", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCSRF(t *testing.T) {
	cfg := testConfig()
	cfg.Security.CSRFEnabled = true
	f := newAPIFixture(t, cfg)

	fetchToken := func(t *testing.T) (token, cookie string) {
		rec := f.do(t, http.MethodGet, "/api/v1/csrf", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		token = decode[csrfResponse](t, rec).Token
		require.NotEmpty(t, token)
		for _, ck := range rec.Result().Cookies() {
			if ck.Name == "_loom_csrf" {
				cookie = ck.Value
			}
		}
		require.NotEmpty(t, cookie)
		return token, cookie
	}

	t.Run("mutation without token is rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/projects", map[string]string{"name": "blocked"}, nil)
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("token round trip", func(t *testing.T) {
		token, cookie := fetchToken(t)

		h := http.Header{}
		h.Set(echo.HeaderXCSRFToken, token)
		h.Set("Cookie", "_loom_csrf="+cookie)
		rec := f.do(t, http.MethodPost, "/api/v1/projects", map[string]string{"name": "allowed"}, h)
		require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	})

	t.Run("bearer clients skip the dance", func(t *testing.T) {
		h := http.Header{}
		h.Set(echo.HeaderAuthorization, "Bearer anything")
		rec := f.do(t, http.MethodPost, "/api/v1/projects", map[string]string{"name": "cli-made"}, h)
		require.Equal(t, http.StatusCreated, rec.Code)
	})
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RateLimit = 1
	cfg.Security.RateBurst = 1
	f := newAPIFixture(t, cfg)

	first := f.do(t, http.MethodGet, "/api/v1/projects", nil, nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := f.do(t, http.MethodGet, "/api/v1/projects", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "rate_limited", errorCode(t, second))
}

func TestBodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Security.BodyLimit = "1K"
	f := newAPIFixture(t, cfg)

	rec := f.do(t, http.MethodPost, "/api/v1/projects",
		map[string]string{"name": strings.Repeat("x", 4096)}, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "payload_too_large", errorCode(t, rec))
}

func TestStats(t *testing.T) {
	f := newAPIFixture(t, nil)
	p := f.seedProject(t, "demo")
	f.seedConversation(t, p.ID, "chat")

	// One miss then one hit so the cache counters show activity.
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/projects/"+p.ID, nil, nil).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/projects/"+p.ID, nil, nil).Code)

	rec := f.do(t, http.MethodGet, "/api/v1/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[statsResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, 1, resp.Counts.Projects)
	assert.Equal(t, 1, resp.Counts.Conversations)
	assert.Equal(t, "ok", resp.Services["store"])
	assert.Equal(t, "ok", resp.Services["llm"])
	assert.Equal(t, "disabled", resp.Services["events"])
	assert.Equal(t, 0, resp.ActiveSessions)
	assert.Equal(t, uint64(1), resp.Cache.Projects.Hits)
	assert.Equal(t, uint64(1), resp.Cache.Projects.Misses)
}

func TestModels(t *testing.T) {
	t.Run("proxies the listing", func(t *testing.T) {
		f := newAPIFixture(t, nil)

		rec := f.do(t, http.MethodGet, "/api/v1/models", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[modelsResponse](t, rec)
		require.Len(t, resp.Models, 1)
		assert.Equal(t, "llama-3.1-8b", resp.Models[0].ID)
	})

	t.Run("maps upstream failure to bad gateway", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		f.llm.modelsErr = errors.New("connection refused")

		rec := f.do(t, http.MethodGet, "/api/v1/models", nil, nil)
		require.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestEventsDisabled(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/events", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", errorCode(t, rec))
}
