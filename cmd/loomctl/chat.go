package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilnworks/loom/internal/store"
)

var (
	chatConversation string
	chatProject      string
	chatTitle        string
	chatSystem       string
)

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVar(&chatConversation, "conversation", "", "existing conversation id")
	chatCmd.Flags().StringVar(&chatProject, "project", "", "project id (starts a new conversation)")
	chatCmd.Flags().StringVar(&chatTitle, "title", "", "title for a new conversation")
	chatCmd.Flags().StringVar(&chatSystem, "system", "", "system prompt for a new conversation")
}

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Chat with the assistant from the terminal",
	Long: `Stream a chat turn to the terminal. With a prompt argument a single
turn runs and the command exits; without one an interactive loop reads
prompts from stdin until Ctrl-D. Ctrl-C cancels the generation in
flight without killing the loop.

Examples:
  # One-shot against an existing conversation
  loomctl chat --conversation 91ab... "summarize the last discussion"

  # Start a fresh conversation in a project and talk interactively
  loomctl chat --project 2f1c... --title "refactor planning"`,
	RunE: runChat,
}

// streamRequest matches internal/chat/stream.go StreamRequest.
type streamRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// chatCancelRequest matches internal/httpapi/chat.go.
type chatCancelRequest struct {
	SessionID string `json:"session_id"`
}

// createConversationRequest matches internal/httpapi/conversations.go.
type createConversationRequest struct {
	ProjectID    string `json:"project_id"`
	Title        string `json:"title,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, err := newAPIClient(serverURL, authToken)
	if err != nil {
		return err
	}

	conversationID, err := resolveConversation(ctx, cmd, client)
	if err != nil {
		return err
	}

	if len(args) > 0 {
		return streamTurn(ctx, cmd, client, conversationID, strings.Join(args, " "))
	}

	// Interactive loop. Stream errors are reported but do not end the
	// session; Ctrl-D does.
	in := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(cmd.OutOrStdout(), "> ")
		if !in.Scan() {
			fmt.Fprintln(cmd.OutOrStdout())
			return in.Err()
		}
		prompt := strings.TrimSpace(in.Text())
		if prompt == "" {
			continue
		}
		if prompt == "/quit" || prompt == "/exit" {
			return nil
		}
		if err := streamTurn(ctx, cmd, client, conversationID, prompt); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
	}
}

// resolveConversation returns the conversation to stream into, creating
// one when --project is given.
func resolveConversation(ctx context.Context, cmd *cobra.Command, client *apiClient) (string, error) {
	switch {
	case chatConversation != "":
		return chatConversation, nil

	case chatProject != "":
		var conv store.Conversation
		req := createConversationRequest{
			ProjectID:    chatProject,
			Title:        chatTitle,
			SystemPrompt: chatSystem,
		}
		if err := client.post(ctx, "/api/v1/conversations", req, &conv); err != nil {
			return "", fmt.Errorf("creating conversation: %w", err)
		}
		cmd.Printf("Conversation %q (%s)\n", conv.Title, conv.ID)
		return conv.ID, nil

	default:
		return "", fmt.Errorf("either --conversation or --project is required")
	}
}

// streamTurn sends one prompt and relays the SSE stream to the
// terminal. SIGINT cancels the generation through the cancel endpoint
// and the turn still ends cleanly on the server's done event.
func streamTurn(ctx context.Context, cmd *cobra.Command, client *apiClient, conversationID, content string) error {
	resp, err := client.stream(ctx, http.MethodPost, "/api/v1/chat/stream", streamRequest{
		ConversationID: conversationID,
		Content:        content,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var sessionID atomic.Value
	sessionID.Store("")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-sigCh:
			sid, _ := sessionID.Load().(string)
			if sid == "" {
				// No session announced yet; drop the connection.
				resp.Body.Close()
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.post(ctx, "/api/v1/chat/cancel", chatCancelRequest{SessionID: sid}, nil)
		case <-done:
		}
	}()

	finish, err := relayStream(resp.Body, cmd.OutOrStdout(), func(sid string) {
		sessionID.Store(sid)
	})
	if err != nil {
		return err
	}

	switch finish {
	case store.FinishCancelled:
		fmt.Fprintln(cmd.OutOrStdout(), "\n(generation cancelled)")
	case store.FinishLength:
		fmt.Fprintln(cmd.OutOrStdout(), "\n(truncated at the token limit)")
	default:
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return nil
}

// sessionEvent, messageEvent, errorEvent, and doneEvent mirror the SSE
// payloads in internal/chat/stream.go.
type sessionEvent struct {
	SessionID string `json:"session_id"`
}

type messageEvent struct {
	Content string `json:"content"`
}

type errorEvent struct {
	Error string `json:"error"`
}

type doneEvent struct {
	FinishReason string `json:"finish_reason"`
}

// relayStream parses the SSE stream, writing deltas to out as they
// arrive. It returns the finish reason from the done event. onSession
// runs as soon as the server announces the session id.
func relayStream(r io.Reader, out io.Writer, onSession func(string)) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")

		case strings.HasPrefix(line, "data: "):
			data := []byte(strings.TrimPrefix(line, "data: "))
			switch event {
			case "session":
				var ev sessionEvent
				if err := json.Unmarshal(data, &ev); err == nil && onSession != nil {
					onSession(ev.SessionID)
				}
			case "message":
				var ev messageEvent
				if err := json.Unmarshal(data, &ev); err == nil {
					fmt.Fprint(out, ev.Content)
				}
			case "error":
				var ev errorEvent
				if err := json.Unmarshal(data, &ev); err != nil {
					return "", fmt.Errorf("generation failed")
				}
				return "", fmt.Errorf("generation failed: %s", ev.Error)
			case "done":
				var ev doneEvent
				if err := json.Unmarshal(data, &ev); err != nil {
					return "", fmt.Errorf("decoding done event: %w", err)
				}
				return ev.FinishReason, nil
			}

		default:
			// Blank separators and ": heartbeat" comments.
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading stream: %w", err)
	}
	return "", fmt.Errorf("stream ended without a done event")
}
