package mcptools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kilnworks/loom/internal/store"
)

const defaultToolLimit = 20

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultToolLimit
	}
	if limit > 200 {
		return 200
	}
	return limit
}

type listProjectsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum projects to return (default: 20)"`
}

type listProjectsOutput struct {
	Projects []store.Project `json:"projects" jsonschema:"Projects, most recently updated first"`
	Total    int             `json:"total" jsonschema:"Number of projects returned"`
}

type listConversationsInput struct {
	ProjectID string `json:"project_id" jsonschema:"required,Project to list conversations for"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum conversations to return (default: 20)"`
}

type listConversationsOutput struct {
	Conversations []store.Conversation `json:"conversations" jsonschema:"Conversations, most recently active first"`
	Total         int                  `json:"total" jsonschema:"Number of conversations returned"`
}

type getConversationInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"required,Conversation to fetch"`
	Limit          int    `json:"limit,omitempty" jsonschema:"Maximum messages to return (default: 20)"`
}

type getConversationOutput struct {
	Conversation *store.Conversation `json:"conversation" jsonschema:"The conversation"`
	Messages     []store.Message     `json:"messages" jsonschema:"Messages in chronological order"`
}

type searchMessagesInput struct {
	Query     string `json:"query" jsonschema:"required,Full-text search query"`
	ProjectID string `json:"project_id,omitempty" jsonschema:"Restrict the search to one project"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum results to return (default: 20)"`
}

type searchMessagesOutput struct {
	Results []store.MessageHit `json:"results" jsonschema:"Matching messages, best match first"`
	Total   int                `json:"total" jsonschema:"Number of results returned"`
}

type searchDocumentsInput struct {
	Query     string `json:"query" jsonschema:"required,Full-text search query"`
	ProjectID string `json:"project_id,omitempty" jsonschema:"Restrict the search to one project"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum results to return (default: 20)"`
}

type searchDocumentsOutput struct {
	Results []store.DocumentHit `json:"results" jsonschema:"Matching documents with snippets, best match first"`
	Total   int                 `json:"total" jsonschema:"Number of results returned"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_projects",
		Description: "List the assistant's projects, most recently updated first.",
	}, s.handleListProjects)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_conversations",
		Description: "List conversations in a project, most recently active first.",
	}, s.handleListConversations)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_conversation",
		Description: "Fetch a conversation and its recent transcript.",
	}, s.handleGetConversation)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_messages",
		Description: "Full-text search over chat messages across all projects or within one.",
	}, s.handleSearchMessages)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_documents",
		Description: "Full-text search over uploaded documents, returning matching snippets.",
	}, s.handleSearchDocuments)
}

func (s *Server) handleListProjects(ctx context.Context, req *mcp.CallToolRequest, args listProjectsInput) (*mcp.CallToolResult, listProjectsOutput, error) {
	projects, err := s.store.ListProjects(ctx, clampLimit(args.Limit), 0)
	if err != nil {
		return nil, listProjectsOutput{}, fmt.Errorf("listing projects: %w", err)
	}
	if projects == nil {
		projects = []store.Project{}
	}

	return textResult(fmt.Sprintf("%d projects.", len(projects))),
		listProjectsOutput{Projects: projects, Total: len(projects)}, nil
}

func (s *Server) handleListConversations(ctx context.Context, req *mcp.CallToolRequest, args listConversationsInput) (*mcp.CallToolResult, listConversationsOutput, error) {
	if args.ProjectID == "" {
		return nil, listConversationsOutput{}, fmt.Errorf("project_id is required")
	}

	conversations, err := s.store.ListConversations(ctx, args.ProjectID, clampLimit(args.Limit), 0)
	if err != nil {
		return nil, listConversationsOutput{}, fmt.Errorf("listing conversations: %w", err)
	}
	if conversations == nil {
		conversations = []store.Conversation{}
	}

	return textResult(fmt.Sprintf("%d conversations.", len(conversations))),
		listConversationsOutput{Conversations: conversations, Total: len(conversations)}, nil
}

func (s *Server) handleGetConversation(ctx context.Context, req *mcp.CallToolRequest, args getConversationInput) (*mcp.CallToolResult, getConversationOutput, error) {
	if args.ConversationID == "" {
		return nil, getConversationOutput{}, fmt.Errorf("conversation_id is required")
	}

	conv, err := s.store.GetConversation(ctx, args.ConversationID)
	if err != nil {
		return nil, getConversationOutput{}, fmt.Errorf("fetching conversation: %w", err)
	}

	messages, err := s.store.ListRecentMessages(ctx, conv.ID, clampLimit(args.Limit))
	if err != nil {
		return nil, getConversationOutput{}, fmt.Errorf("fetching messages: %w", err)
	}
	if messages == nil {
		messages = []store.Message{}
	}

	return textResult(renderTranscript(conv, messages)),
		getConversationOutput{Conversation: conv, Messages: messages}, nil
}

func (s *Server) handleSearchMessages(ctx context.Context, req *mcp.CallToolRequest, args searchMessagesInput) (*mcp.CallToolResult, searchMessagesOutput, error) {
	if strings.TrimSpace(args.Query) == "" {
		return nil, searchMessagesOutput{}, fmt.Errorf("query is required")
	}

	hits, err := s.store.SearchMessages(ctx, args.Query, args.ProjectID, clampLimit(args.Limit))
	if err != nil {
		return nil, searchMessagesOutput{}, fmt.Errorf("searching messages: %w", err)
	}
	if hits == nil {
		hits = []store.MessageHit{}
	}

	return textResult(fmt.Sprintf("%d matching messages.", len(hits))),
		searchMessagesOutput{Results: hits, Total: len(hits)}, nil
}

func (s *Server) handleSearchDocuments(ctx context.Context, req *mcp.CallToolRequest, args searchDocumentsInput) (*mcp.CallToolResult, searchDocumentsOutput, error) {
	if strings.TrimSpace(args.Query) == "" {
		return nil, searchDocumentsOutput{}, fmt.Errorf("query is required")
	}

	hits, err := s.store.SearchDocuments(ctx, args.Query, args.ProjectID, clampLimit(args.Limit))
	if err != nil {
		return nil, searchDocumentsOutput{}, fmt.Errorf("searching documents: %w", err)
	}
	if hits == nil {
		hits = []store.DocumentHit{}
	}

	return textResult(fmt.Sprintf("%d matching documents.", len(hits))),
		searchDocumentsOutput{Results: hits, Total: len(hits)}, nil
}

// renderTranscript formats a conversation for the text content block,
// which is what most MCP clients show the model.
func renderTranscript(conv *store.Conversation, messages []store.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", conv.Title)
	for _, m := range messages {
		fmt.Fprintf(&b, "\n%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
