package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilnworks/loom/internal/embeddings"
)

var setupForce bool

func init() {
	rootCmd.AddCommand(setupCmd)
	setupCmd.Flags().BoolVarP(&setupForce, "force", "f", false, "re-download even if already installed")
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Install dependencies for local retrieval",
	Long: `Download the ONNX runtime library that local embeddings need.
The library lands under the loom data directory; set ONNX_PATH to use
an existing installation instead.

Retrieval stays optional: loomd runs fine without this step as long as
retrieval.enabled is false.`,
	RunE: runSetup,
}

func runSetup(cmd *cobra.Command, _ []string) error {
	if !setupForce {
		if path := embeddings.ONNXLibraryPath(); path != "" {
			cmd.Printf("ONNX runtime already installed at: %s\n", path)
			cmd.Println("Use --force to re-download.")
			return nil
		}
	}

	cmd.Println("Downloading ONNX runtime...")

	install := embeddings.EnsureONNXRuntime
	if setupForce {
		install = embeddings.DownloadONNXRuntime
	}
	path, err := install(context.Background())
	if err != nil {
		if errors.Is(err, embeddings.ErrLocalNotAvailable) {
			return fmt.Errorf("this build has no local embedding support; rebuild with cgo or configure the openai embeddings provider")
		}
		return fmt.Errorf("installing ONNX runtime: %w", err)
	}

	cmd.Printf("Installed ONNX runtime to: %s\n", path)
	return nil
}
