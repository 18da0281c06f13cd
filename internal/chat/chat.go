// Package chat relays conversations to the inference server as SSE
// token streams. Each stream runs under a session; at most one
// generation is in flight per session id, and a separate request can
// cancel it mid-stream. Completed and cancelled turns are persisted to
// the store with their finish reason.
package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/kilnworks/loom/internal/config"
	"github.com/kilnworks/loom/internal/events"
	"github.com/kilnworks/loom/internal/llm"
	"github.com/kilnworks/loom/internal/logging"
	"github.com/kilnworks/loom/internal/secrets"
	"github.com/kilnworks/loom/internal/store"
	"github.com/kilnworks/loom/internal/vectorstore"
)

// Streamer is the upstream token source. *llm.Client implements it.
type Streamer interface {
	Stream(ctx context.Context, messages []llm.Message) (<-chan llm.Delta, <-chan error)
	Model() string
}

// Retriever supplies document context for a prompt. *ingest.Pipeline
// implements it; nil disables retrieval.
type Retriever interface {
	Retrieve(ctx context.Context, projectID, query string) ([]vectorstore.SearchResult, error)
}

var (
	metricsOnce sync.Once
	sessionsVec *prometheus.CounterVec
	activeGauge prometheus.Gauge
)

func registerMetrics() {
	metricsOnce.Do(func() {
		sessionsVec = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_chat_sessions_total",
			Help: "Finished chat generations, by finish reason.",
		}, []string{"finish_reason"})
		activeGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "loom_chat_active_sessions",
			Help: "Generations currently in flight.",
		})
	})
}

// Service runs the chat relay.
type Service struct {
	store     *store.Store
	llm       Streamer
	retriever Retriever
	scrubber  secrets.Scrubber
	events    *events.Publisher
	sessions  *Sessions

	historyLimit   int
	heartbeat      time.Duration
	tokensStreamed atomic.Int64
	logger         *logging.Logger
}

// NewService wires the relay. retriever may be nil when retrieval is
// disabled, scrubber may be nil when outbound scrubbing is disabled.
func NewService(st *store.Store, streamer Streamer, retriever Retriever, scrubber secrets.Scrubber, pub *events.Publisher, cfg config.LLMConfig, logger *logging.Logger) *Service {
	if scrubber == nil {
		scrubber = secrets.Nop{}
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 40
	}
	registerMetrics()

	return &Service{
		store:        st,
		llm:          streamer,
		retriever:    retriever,
		scrubber:     scrubber,
		events:       pub,
		sessions:     NewSessions(),
		historyLimit: historyLimit,
		heartbeat:    30 * time.Second,
		logger:       logger.Named("chat"),
	}
}

// Cancel aborts the in-flight generation for the session id, if any.
func (s *Service) Cancel(sessionID string) bool {
	found := s.sessions.Cancel(sessionID)
	if found {
		s.logger.Info(context.Background(), "generation cancelled",
			zap.String("session_id", sessionID))
	}
	return found
}

// Active returns the number of in-flight generations.
func (s *Service) Active() int {
	return s.sessions.Active()
}

// ActiveSessions lists in-flight generations for the stats endpoint.
func (s *Service) ActiveSessions() []SessionInfo {
	return s.sessions.Snapshot()
}

// TokensStreamed returns the cumulative count of streamed tokens since
// startup. The monitor differentiates successive stats polls into a
// rate.
func (s *Service) TokensStreamed() int64 {
	return s.tokensStreamed.Load()
}
