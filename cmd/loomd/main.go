// Loomd is the local backend daemon for the loom chat assistant.
//
// It serves the REST and SSE API over loopback, owns the SQLite store,
// relays chat requests to a llama.cpp-compatible inference server, and
// optionally runs the retrieval pipeline, the inbox watcher, and an
// embedded event bus.
//
// Configuration is loaded from ~/.config/loom/config.yaml and LOOM_
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	loomd
//
//	# Point at a different inference server
//	LOOM_LLM_BASE_URL=http://localhost:8081 loomd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kilnworks/loom/internal/cache"
	"github.com/kilnworks/loom/internal/chat"
	"github.com/kilnworks/loom/internal/config"
	"github.com/kilnworks/loom/internal/embeddings"
	"github.com/kilnworks/loom/internal/events"
	"github.com/kilnworks/loom/internal/httpapi"
	"github.com/kilnworks/loom/internal/ingest"
	"github.com/kilnworks/loom/internal/llm"
	"github.com/kilnworks/loom/internal/logging"
	"github.com/kilnworks/loom/internal/secrets"
	"github.com/kilnworks/loom/internal/store"
	"github.com/kilnworks/loom/internal/telemetry"
	"github.com/kilnworks/loom/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/loom/config.yaml)")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  loomd            Start the loom daemon\n")
			fmt.Fprintf(os.Stderr, "  loomd version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("loomd by Kilnworks\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until the context is cancelled.
//
// Initialization order matters: config, telemetry, logger, then the
// store and optional infrastructure (event bus, retrieval pipeline,
// inbox watcher), then the chat service, and finally the HTTP server.
// Shutdown runs the other way around.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := config.EnsureDataDir(); err != nil {
		return err
	}

	tel, err := initTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting loomd",
		zap.String("version", version),
		zap.String("store", cfg.Store.Path),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("retrieval", cfg.Retrieval.Enabled),
		zap.Bool("events", cfg.Events.Enabled))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close()

	var retriever chat.Retriever
	if deps.pipeline != nil {
		retriever = deps.pipeline
	}
	chatSvc := chat.NewService(deps.store, deps.llm, retriever, deps.scrubber, deps.events, cfg.LLM, logger)

	apiDeps := httpapi.Deps{
		Store:   deps.store,
		Cache:   cache.NewLookups(deps.store, cfg.Cache.TTL, cfg.Cache.MaxEntries),
		Chat:    chatSvc,
		LLM:     deps.llm,
		Events:  deps.events,
		Logger:  logger,
		Version: version,
	}
	if deps.pipeline != nil {
		apiDeps.Indexer = deps.pipeline
	}

	srv, err := httpapi.NewServer(cfg, apiDeps)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// dependencies holds the daemon's long-lived resources. Optional
// members are nil when their feature is disabled.
type dependencies struct {
	store    *store.Store
	bus      *events.Bus
	events   *events.Publisher
	embedder embeddings.Provider
	vectors  vectorstore.Store
	pipeline *ingest.Pipeline
	watcher  *ingest.Watcher
	llm      *llm.Client
	scrubber secrets.Scrubber
	logger   *logging.Logger
}

// Close releases resources in reverse initialization order.
func (d *dependencies) Close() {
	ctx := context.Background()
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.vectors != nil {
		if err := d.vectors.Close(); err != nil {
			d.logger.Warn(ctx, "closing vector store", zap.Error(err))
		}
	}
	if d.embedder != nil {
		if err := d.embedder.Close(); err != nil {
			d.logger.Warn(ctx, "closing embedder", zap.Error(err))
		}
	}
	if d.bus != nil {
		d.bus.Close()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn(ctx, "closing store", zap.Error(err))
		}
	}
}

// initDependencies opens the store and starts the optional
// infrastructure: embedded event bus, retrieval pipeline, and inbox
// watcher.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	deps := &dependencies{logger: logger}

	st, err := store.Open(cfg.Store.Path, logger.Underlying())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	deps.store = st

	if cfg.Events.Enabled {
		bus, err := events.Start(cfg.Events, logger.Underlying())
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("starting event bus: %w", err)
		}
		deps.bus = bus
		deps.events = events.NewPublisher(bus.Conn(), logger.Underlying())
	}

	scrubber, err := secrets.New(cfg.Security)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("building scrubber: %w", err)
	}
	deps.scrubber = scrubber

	if cfg.Retrieval.Enabled {
		embedder, err := embeddings.NewProvider(cfg.Retrieval.Embeddings)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
		deps.embedder = embedder

		vectors, err := vectorstore.New(cfg.Retrieval, embedder, embedder.Dimension(), logger.Underlying())
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("creating vector store: %w", err)
		}
		deps.vectors = vectors
		deps.pipeline = ingest.NewPipeline(st, vectors, scrubber, deps.events, cfg.Retrieval, logger.Underlying())

		logger.Info(ctx, "retrieval enabled",
			zap.String("provider", cfg.Retrieval.Provider),
			zap.String("embeddings", cfg.Retrieval.Embeddings.Provider),
			zap.Int("dimension", embedder.Dimension()))
	}

	if cfg.Ingest.InboxDir != "" {
		watcher, err := ingest.NewWatcher(st, deps.pipeline, deps.events, cfg.Ingest, logger.Underlying())
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("creating inbox watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			deps.Close()
			return nil, fmt.Errorf("starting inbox watcher: %w", err)
		}
		deps.watcher = watcher
	}

	deps.llm = llm.New(cfg.LLM, logger)
	return deps, nil
}

// initTelemetry assembles the telemetry config from the application
// config and starts the providers. Disabled telemetry still returns a
// usable no-op Telemetry.
func initTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	tcfg := telemetry.NewDefaultConfig()
	tcfg.Enabled = cfg.Telemetry.Enabled
	tcfg.Endpoint = cfg.Telemetry.Endpoint
	tcfg.Protocol = cfg.Telemetry.Protocol
	tcfg.Insecure = cfg.Telemetry.Insecure
	tcfg.SampleRatio = cfg.Telemetry.SampleRatio
	tcfg.ServiceVersion = version
	if cfg.Telemetry.ServiceName != "" {
		tcfg.ServiceName = cfg.Telemetry.ServiceName
	}
	return telemetry.New(ctx, tcfg)
}

// initLogger assembles the logging config from the application config,
// bridging to OTEL when telemetry is enabled.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	lcfg := logging.NewDefaultConfig()
	lcfg.Level = level
	lcfg.Format = cfg.Logging.Format
	lcfg.Output.OTEL = tel.IsEnabled()

	return logging.NewLogger(lcfg, tel.LoggerProvider())
}
