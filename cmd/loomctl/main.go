// Package main implements the loomctl CLI for operating a loomd
// daemon: managing projects and conversations, chatting from the
// terminal, searching, benchmarking the inference server, and serving
// the store over MCP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the loomd HTTP server
	serverURL string
	// authToken is the optional bearer token for the API
	authToken string
	// jsonOutput switches list and search output to raw JSON
	jsonOutput bool

	// version information (set via ldflags during build)
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "loomctl",
	Short: "CLI for the loom daemon",
	Long: `loomctl is a command-line interface for a running loomd daemon.
It manages projects and conversations, streams chat from the terminal,
searches the store, and benchmarks the inference server.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("LOOM_SERVER_URL", "http://127.0.0.1:8760"), "loomd server URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token",
		os.Getenv("LOOM_AUTH_TOKEN"), "bearer token for the API")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON for scripting")

	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints build information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("loomctl by Kilnworks\n")
		cmd.Printf("Version:    %s\n", version)
		cmd.Printf("Commit:     %s\n", gitCommit)
		cmd.Printf("Build Date: %s\n", buildDate)
	},
}

// envOr returns the environment value or a default.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// printJSON writes v as indented JSON to the command's stdout.
func printJSON(cmd *cobra.Command, v any) error {
	data, err := jsonMarshalIndent(v)
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
