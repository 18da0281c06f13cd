package main

import (
	"context"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/kilnworks/loom/internal/store"
)

var conversationProject string

func init() {
	rootCmd.AddCommand(conversationCmd)
	conversationCmd.AddCommand(conversationListCmd)

	conversationListCmd.Flags().StringVar(&conversationProject, "project", "", "project id (required)")
}

// conversationCmd is the parent command for conversation operations
var conversationCmd = &cobra.Command{
	Use:   "conversation",
	Short: "Manage conversations",
}

var conversationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's conversations",
	Long: `List the conversations of a project, most recently updated first.

Examples:
  loomctl conversation list --project 2f1c...
  loomctl conversation list --project 2f1c... --json`,
	RunE: runConversationList,
}

func runConversationList(cmd *cobra.Command, args []string) error {
	if conversationProject == "" {
		return fmt.Errorf("--project is required")
	}

	client, err := newAPIClient(serverURL, authToken)
	if err != nil {
		return err
	}

	path := "/api/v1/conversations?project_id=" + url.QueryEscape(conversationProject)
	var conversations []store.Conversation
	if err := client.get(context.Background(), path, &conversations); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd, conversations)
	}
	if len(conversations) == 0 {
		cmd.Println("No conversations in this project.")
		return nil
	}

	cmd.Printf("%-38s %-40s %s\n", "ID", "TITLE", "UPDATED")
	for _, conv := range conversations {
		cmd.Printf("%-38s %-40s %s\n", conv.ID, conv.Title, conv.UpdatedAt)
	}
	return nil
}
