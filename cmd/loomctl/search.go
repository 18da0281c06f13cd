package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kilnworks/loom/internal/store"
)

var (
	searchType    string
	searchProject string
	searchLimit   int
)

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().StringVar(&searchType, "type", "messages", "what to search: messages or documents")
	searchCmd.Flags().StringVar(&searchProject, "project", "", "restrict to one project")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum results")
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over messages or documents",
	Long: `Search the store with SQLite FTS5 syntax.

Examples:
  loomctl search "goroutine leak"
  loomctl search --type documents "release notes"
  loomctl search --project 2f1c... deadlock`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	client, err := newAPIClient(serverURL, authToken)
	if err != nil {
		return err
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("type", searchType)
	params.Set("limit", fmt.Sprint(searchLimit))
	if searchProject != "" {
		params.Set("project_id", searchProject)
	}

	var resp struct {
		Query   string          `json:"query"`
		Type    string          `json:"type"`
		Results json.RawMessage `json:"results"`
	}
	if err := client.get(context.Background(), "/api/v1/search?"+params.Encode(), &resp); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd, json.RawMessage(resp.Results))
	}

	switch resp.Type {
	case "documents":
		var hits []store.DocumentHit
		if err := json.Unmarshal(resp.Results, &hits); err != nil {
			return fmt.Errorf("decoding results: %w", err)
		}
		if len(hits) == 0 {
			cmd.Println("No matching documents.")
			return nil
		}
		for _, h := range hits {
			cmd.Printf("%s  %s\n    %s\n", h.ID, h.Name, cleanSnippet(h.Snippet))
		}

	default:
		var hits []store.MessageHit
		if err := json.Unmarshal(resp.Results, &hits); err != nil {
			return fmt.Errorf("decoding results: %w", err)
		}
		if len(hits) == 0 {
			cmd.Println("No matching messages.")
			return nil
		}
		for _, h := range hits {
			cmd.Printf("%s  [%s]\n    %s\n", h.ID, h.Role, cleanSnippet(excerpt(h.Content, 160)))
		}
	}
	return nil
}

// cleanSnippet flattens newlines so one hit stays on one line.
func cleanSnippet(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// excerpt truncates s to at most n runes with an ellipsis.
func excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
