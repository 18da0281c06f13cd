package main

import (
	"testing"
)

func TestBenchCmd_Flags(t *testing.T) {
	for _, name := range []string{"requests", "concurrency", "prompt", "prompts-file", "llm-url", "model"} {
		if benchCmd.Flags().Lookup(name) == nil {
			t.Errorf("bench command missing --%s flag", name)
		}
	}

	if benchCmd.Flags().ShorthandLookup("n") == nil {
		t.Error("bench command missing -n shorthand")
	}
	if benchCmd.Flags().ShorthandLookup("c") == nil {
		t.Error("bench command missing -c shorthand")
	}
}

func TestBenchLogger(t *testing.T) {
	logger, err := benchLogger()
	if err != nil {
		t.Fatalf("benchLogger: %v", err)
	}
	if logger == nil {
		t.Fatal("benchLogger returned nil")
	}
}
