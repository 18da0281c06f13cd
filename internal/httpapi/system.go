package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kilnworks/loom/internal/cache"
	"github.com/kilnworks/loom/internal/chat"
	"github.com/kilnworks/loom/internal/events"
	"github.com/kilnworks/loom/internal/llm"
	"github.com/kilnworks/loom/internal/store"
)

// probeTimeout bounds the dependency checks behind /readyz and /stats.
const probeTimeout = 2 * time.Second

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// handleReadyz reports readiness. The store gates it; the inference
// server only degrades it, since browsing history must work while the
// model server is down.
func (s *Server) handleReadyz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), probeTimeout)
	defer cancel()

	resp := readyResponse{Status: "ready", Checks: map[string]string{}}
	status := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		resp.Checks["store"] = err.Error()
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	} else {
		resp.Checks["store"] = "ok"
	}

	switch {
	case s.llm == nil:
		resp.Checks["llm"] = "disabled"
	default:
		if err := s.llm.Healthy(ctx); err != nil {
			resp.Checks["llm"] = err.Error()
			if resp.Status == "ready" {
				resp.Status = "degraded"
			}
		} else {
			resp.Checks["llm"] = "ok"
		}
	}

	return c.JSON(status, resp)
}

func (s *Server) handleMetrics() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}

type csrfResponse struct {
	Token string `json:"token"`
}

// handleCSRFToken hands browser clients the token minted by the CSRF
// middleware. With CSRF disabled the token is empty and clients send
// nothing.
func (s *Server) handleCSRFToken(c echo.Context) error {
	token, _ := c.Get(csrfContextKey).(string)
	return c.JSON(http.StatusOK, csrfResponse{Token: token})
}

// handleEvents attaches the client to the lifecycle event feed.
func (s *Server) handleEvents(c echo.Context) error {
	nc := s.events.Conn()
	if nc == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event feed is disabled")
	}
	return events.Feed(c, nc)
}

type statsResponse struct {
	Status         string               `json:"status"`
	Version        string               `json:"version"`
	UptimeSeconds  int64                `json:"uptime_seconds"`
	Services       map[string]string    `json:"services"`
	Counts         *store.Stats         `json:"counts"`
	Cache          cache.LookupCounters `json:"cache"`
	ActiveSessions int                  `json:"active_sessions"`
	TokensStreamed int64                `json:"tokens_streamed"`
	Sessions       []chat.SessionInfo   `json:"sessions"`
}

// handleStats aggregates the numbers loomctl monitor polls.
func (s *Server) handleStats(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), probeTimeout)
	defer cancel()

	counts, err := s.store.Stats(ctx)
	if err != nil {
		return err
	}

	services := map[string]string{"store": "ok"}
	switch {
	case s.llm == nil:
		services["llm"] = "disabled"
	default:
		if err := s.llm.Healthy(ctx); err != nil {
			services["llm"] = "unreachable"
		} else {
			services["llm"] = "ok"
		}
	}
	if s.events.Conn() != nil {
		services["events"] = "ok"
	} else {
		services["events"] = "disabled"
	}

	sessions := s.chat.ActiveSessions()
	if sessions == nil {
		sessions = []chat.SessionInfo{}
	}

	return c.JSON(http.StatusOK, statsResponse{
		Status:         "ok",
		Version:        s.version,
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		Services:       services,
		Counts:         counts,
		Cache:          s.cache.Counters(),
		ActiveSessions: s.chat.Active(),
		TokensStreamed: s.chat.TokensStreamed(),
		Sessions:       sessions,
	})
}

type modelsResponse struct {
	Models []llm.ModelInfo `json:"models"`
}

// handleModels proxies the inference server's model listing.
func (s *Server) handleModels(c echo.Context) error {
	if s.llm == nil {
		return c.JSON(http.StatusOK, modelsResponse{Models: []llm.ModelInfo{}})
	}

	models, err := s.llm.Models(c.Request().Context())
	if err != nil {
		s.logger.Warn(c.Request().Context(), "listing models", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "inference server is unreachable")
	}
	if models == nil {
		models = []llm.ModelInfo{}
	}
	return c.JSON(http.StatusOK, modelsResponse{Models: models})
}
