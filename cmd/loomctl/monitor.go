package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kilnworks/loom/internal/monitor"
)

var monitorInterval time.Duration

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 2*time.Second, "refresh interval")
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live dashboard for a running loomd",
	Long: `Render a full-screen dashboard of loomd runtime stats: active
chat sessions, token throughput, request counts, and cache hit rates.
Press q to quit.`,
	RunE: runMonitor,
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	if monitorInterval < 500*time.Millisecond {
		return fmt.Errorf("--interval must be at least 500ms")
	}

	client := monitor.NewClient(serverURL, authToken)
	model := monitor.NewModel(client, monitorInterval)

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithOutput(cmd.OutOrStdout()))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running dashboard: %w", err)
	}
	return nil
}
