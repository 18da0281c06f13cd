package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/kilnworks/loom/internal/bench"
	"github.com/kilnworks/loom/internal/config"
	"github.com/kilnworks/loom/internal/llm"
	"github.com/kilnworks/loom/internal/logging"
)

var (
	benchRequests    int
	benchConcurrency int
	benchPrompts     []string
	benchPromptsFile string
	benchLLMURL      string
	benchModel       string
)

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().IntVarP(&benchRequests, "requests", "n", 8, "total requests to send")
	benchCmd.Flags().IntVarP(&benchConcurrency, "concurrency", "c", 2, "requests in flight at once")
	benchCmd.Flags().StringArrayVar(&benchPrompts, "prompt", nil, "prompt to benchmark with (repeatable)")
	benchCmd.Flags().StringVar(&benchPromptsFile, "prompts-file", "", "file with one prompt per line")
	benchCmd.Flags().StringVar(&benchLLMURL, "llm-url", "", "inference server URL (default from config)")
	benchCmd.Flags().StringVar(&benchModel, "model", "", "model name to request")
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark the inference server",
	Long: `Measure time-to-first-token and generation throughput by streaming
prompts straight to the inference server. Nothing is persisted; loomd
does not need to be running.

Examples:
  loomctl bench -n 16 -c 4
  loomctl bench --prompts-file prompts.txt --llm-url http://localhost:8080`,
	RunE: runBench,
}

func runBench(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if benchLLMURL != "" {
		cfg.LLM.BaseURL = benchLLMURL
	}
	if benchModel != "" {
		cfg.LLM.Model = benchModel
	}

	prompts := benchPrompts
	if benchPromptsFile != "" {
		prompts, err = bench.LoadPrompts(benchPromptsFile)
		if err != nil {
			return err
		}
	}
	if len(prompts) == 0 {
		prompts = []string{
			"Explain how goroutines differ from OS threads.",
			"Write a haiku about compilers.",
			"Summarize the tradeoffs of write-ahead logging.",
		}
	}

	logger, err := benchLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	runner, err := bench.NewRunner(llm.New(cfg.LLM, logger), bench.Options{
		Requests:    benchRequests,
		Concurrency: benchConcurrency,
		Prompts:     prompts,
	}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd, sum)
	}
	cmd.Println(sum.Render())
	return nil
}

// benchLogger builds a console logger that stays quiet unless the run
// goes wrong; the summary table is the command's real output.
func benchLogger() (*logging.Logger, error) {
	lcfg := logging.NewDefaultConfig()
	lcfg.Level = zapcore.WarnLevel
	lcfg.Format = "console"
	lcfg.Caller.Enabled = false
	lcfg.Sampling.Enabled = false
	return logging.NewLogger(lcfg, nil)
}
