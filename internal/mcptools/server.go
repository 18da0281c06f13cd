// Package mcptools exposes the assistant's store over the Model
// Context Protocol so external agent tooling can query projects,
// conversations, and documents. Every tool is read-only.
package mcptools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/kilnworks/loom/internal/store"
)

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "loom").
	Name string

	// Version is the server version (default: "dev").
	Version string

	// Logger for structured logging.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "loom",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// Server serves store queries over MCP.
type Server struct {
	mcp    *mcp.Server
	store  *store.Store
	logger *zap.Logger
}

// NewServer creates an MCP server over the given store.
func NewServer(cfg *Config, st *store.Store) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:    mcpServer,
		store:  st,
		logger: cfg.Logger,
	}
	s.registerTools()

	return s, nil
}

// Run serves MCP on the stdio transport until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
