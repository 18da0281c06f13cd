package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kilnworks/loom/internal/config"
	"github.com/kilnworks/loom/internal/mcptools"
	"github.com/kilnworks/loom/internal/store"
)

var mcpStorePath string

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.AddCommand(mcpServeCmd)

	mcpServeCmd.Flags().StringVar(&mcpStorePath, "store", "", "path to the SQLite store (default from config)")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Model Context Protocol utilities",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the store over MCP stdio",
	Long: `Expose projects, conversations, messages, and documents as
read-only MCP tools on the stdio transport. Agent clients launch this
as a subprocess:

  {"command": "loomctl", "args": ["mcp", "serve"]}

The store is opened directly, so loomd does not need to be running.`,
	RunE: runMCPServe,
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	storePath := cfg.Store.Path
	if mcpStorePath != "" {
		storePath = mcpStorePath
	}

	// Stdout carries the MCP transport; logs must stay on stderr.
	zcfg := zap.NewDevelopmentConfig()
	zcfg.OutputPaths = []string{"stderr"}
	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	st, err := store.Open(storePath, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	srv, err := mcptools.NewServer(&mcptools.Config{
		Name:    "loom",
		Version: version,
		Logger:  logger,
	}, st)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}
