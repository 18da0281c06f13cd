package main

import (
	"testing"
)

func TestMCPCmd_ServeSubcommand(t *testing.T) {
	found := false
	for _, cmd := range mcpCmd.Commands() {
		if cmd.Name() == "serve" {
			found = true
			if cmd.Flags().Lookup("store") == nil {
				t.Error("mcp serve missing --store flag")
			}
			break
		}
	}
	if !found {
		t.Error("mcp serve subcommand not registered")
	}
}
