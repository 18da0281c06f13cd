// Package httpapi provides the HTTP API for loomd.
package httpapi

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kilnworks/loom/internal/cache"
	"github.com/kilnworks/loom/internal/chat"
	"github.com/kilnworks/loom/internal/config"
	"github.com/kilnworks/loom/internal/events"
	"github.com/kilnworks/loom/internal/llm"
	"github.com/kilnworks/loom/internal/logging"
	"github.com/kilnworks/loom/internal/sanitize"
	"github.com/kilnworks/loom/internal/store"
)

// indexTimeout bounds a background indexing job kicked off by an upload.
const indexTimeout = 2 * time.Minute

// csrfContextKey is where the CSRF middleware stores the minted token.
const csrfContextKey = "csrf"

// LLM is the inference-server surface the API exposes. *llm.Client
// implements it.
type LLM interface {
	Models(ctx context.Context) ([]llm.ModelInfo, error)
	Healthy(ctx context.Context) error
}

// Indexer feeds uploaded documents into the retrieval index.
// *ingest.Pipeline implements it; nil disables indexing and uploads are
// marked indexed with zero chunks (full-text search serves them either
// way).
type Indexer interface {
	Index(ctx context.Context, doc *store.Document) error
	Remove(ctx context.Context, projectID, docID string) error
	RemoveProject(ctx context.Context, projectID string) error
}

// Deps collects the services the API serves. Store, Chat, and Logger
// are required; the rest degrade gracefully when nil.
type Deps struct {
	Store   *store.Store
	Cache   *cache.Lookups
	Chat    *chat.Service
	LLM     LLM
	Indexer Indexer
	Events  *events.Publisher
	Logger  *logging.Logger
	Version string
}

// Server provides HTTP endpoints for loomd.
type Server struct {
	echo      *echo.Echo
	store     *store.Store
	cache     *cache.Lookups
	chat      *chat.Service
	llm       LLM
	indexer   Indexer
	events    *events.Publisher
	logger    *logging.Logger
	cfg       *config.Config
	version   string
	startedAt time.Time

	indexJobs sync.WaitGroup
}

// NewServer creates the API server and registers all routes.
func NewServer(cfg *config.Config, d Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if d.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if d.Chat == nil {
		return nil, fmt.Errorf("chat service is required")
	}
	if d.Logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if d.Cache == nil {
		d.Cache = cache.NewLookups(d.Store, 0, 0)
	}
	if d.Version == "" {
		d.Version = "dev"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		store:     d.Store,
		cache:     d.Cache,
		chat:      d.Chat,
		llm:       d.LLM,
		indexer:   d.Indexer,
		events:    d.Events,
		logger:    d.Logger.Named("http"),
		cfg:       cfg,
		version:   d.Version,
		startedAt: time.Now(),
	}

	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger())
	e.Use(NewHTTPMetrics(s.logger).MetricsMiddleware())
	e.Use(middleware.Secure())
	if len(cfg.Security.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     cfg.Security.AllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderXCSRFToken},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	s.registerRoutes()

	return s, nil
}

// requestLogger threads the request id into the context and logs one
// line per request.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			rid := c.Response().Header().Get(echo.HeaderXRequestID)

			req := c.Request()
			ctx := req.Context()
			// Clients may supply their own X-Request-ID; only ids that
			// are safe to log travel in the context.
			if sanitize.ValidateID(rid, "request_id") == nil {
				ctx = logging.WithRequestID(ctx, rid)
			}
			c.SetRequest(req.WithContext(ctx))

			err := next(c)

			s.logger.Info(ctx, "http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	}
}

// apiMiddleware builds the stack shared by every /api/v1 route: rate
// limiting, optional bearer auth, and CSRF.
func (s *Server) apiMiddleware() []echo.MiddlewareFunc {
	var mw []echo.MiddlewareFunc

	if s.cfg.Security.RateLimit > 0 {
		mw = append(mw, middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(s.cfg.Security.RateLimit),
				Burst:     s.cfg.Security.RateBurst,
				ExpiresIn: 3 * time.Minute,
			}),
		}))
	}

	if s.cfg.Security.AuthToken.IsSet() {
		token := []byte(s.cfg.Security.AuthToken.Value())
		mw = append(mw, middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			Validator: func(key string, c echo.Context) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), token) == 1, nil
			},
			ErrorHandler: func(err error, c echo.Context) error {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid token")
			},
		}))
	}

	if s.cfg.Security.CSRFEnabled {
		mw = append(mw, middleware.CSRFWithConfig(middleware.CSRFConfig{
			// Bearer clients carry no ambient credential a hostile page
			// could ride, so the token check is cookie-clients only.
			Skipper: func(c echo.Context) bool {
				return c.Request().Header.Get(echo.HeaderAuthorization) != ""
			},
			TokenLookup:    "header:" + echo.HeaderXCSRFToken,
			ContextKey:     csrfContextKey,
			CookieName:     "_loom_csrf",
			CookiePath:     "/",
			CookieSameSite: http.SameSiteLaxMode,
		}))
	}

	return mw
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Liveness, readiness, and metrics stay outside the API stack so
	// probes and scrapers need no token.
	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.GET("/readyz", s.handleReadyz)
	s.echo.GET("/metrics", s.handleMetrics())

	mw := s.apiMiddleware()

	v1 := s.echo.Group("/api/v1", mw...)
	v1.Use(middleware.BodyLimit(s.cfg.Security.BodyLimit))

	v1.GET("/csrf", s.handleCSRFToken)

	v1.POST("/projects", s.handleProjectCreate)
	v1.GET("/projects", s.handleProjectList)
	v1.GET("/projects/:id", s.handleProjectGet)
	v1.PATCH("/projects/:id", s.handleProjectUpdate)
	v1.DELETE("/projects/:id", s.handleProjectDelete)

	v1.POST("/conversations", s.handleConversationCreate)
	v1.GET("/conversations", s.handleConversationList)
	v1.GET("/conversations/:id", s.handleConversationGet)
	v1.PATCH("/conversations/:id", s.handleConversationUpdate)
	v1.DELETE("/conversations/:id", s.handleConversationDelete)
	v1.GET("/conversations/:id/messages", s.handleMessageList)
	v1.DELETE("/messages/:id", s.handleMessageDelete)

	v1.GET("/projects/:id/documents", s.handleDocumentList)
	v1.GET("/documents/:id", s.handleDocumentGet)
	v1.DELETE("/documents/:id", s.handleDocumentDelete)

	v1.GET("/search", s.handleSearch)

	v1.POST("/chat/stream", s.handleChatStream)
	v1.POST("/chat/cancel", s.handleChatCancel)

	v1.GET("/events", s.handleEvents)
	v1.GET("/stats", s.handleStats)
	v1.GET("/models", s.handleModels)

	// Uploads get their own group so the larger body limit applies
	// without loosening it for everything else.
	uploads := s.echo.Group("/api/v1", mw...)
	uploads.Use(middleware.BodyLimit(s.cfg.Security.UploadLimit))
	uploads.POST("/projects/:id/documents", s.handleDocumentUpload)
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown drains connections and waits for background indexing jobs.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	err := s.echo.Shutdown(ctx)
	s.indexJobs.Wait()
	return err
}
