package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/kilnworks/loom/internal/ingest"
	"github.com/kilnworks/loom/internal/llm"
	"github.com/kilnworks/loom/internal/logging"
	"github.com/kilnworks/loom/internal/sanitize"
	"github.com/kilnworks/loom/internal/store"
	"github.com/kilnworks/loom/internal/vectorstore"
)

// maxMessageRunes caps a single chat message after sanitization.
const maxMessageRunes = 32768

// ErrEmptyMessage is returned when the message is empty after
// sanitization.
var ErrEmptyMessage = errors.New("message content is required")

// StreamRequest is the body of a stream request. SessionID is optional;
// one is minted and echoed in the first SSE event when absent.
type StreamRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	SessionID      string `json:"session_id,omitempty"`
}

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
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

// Stream runs one chat turn end to end: persist the user message,
// assemble the prompt, stream tokens from the model to the client as
// SSE events, and persist the assistant reply with its finish reason.
//
// Validation failures return before any bytes are written so the
// handler can map them to status codes. Once the event stream starts
// the return is always nil and failures travel as SSE error events.
// The event order is session, zero or more message events, an error
// event on upstream failure, then a final done event.
func (s *Service) Stream(c echo.Context, req StreamRequest) error {
	ctx := c.Request().Context()

	content := sanitize.Text(req.Content, maxMessageRunes)
	if content == "" {
		return ErrEmptyMessage
	}

	conv, err := s.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	} else if err := sanitize.ValidateID(sessionID, "session_id"); err != nil {
		return err
	}

	// Claim the session before any side effect so a 409 leaves nothing
	// behind for the client to clean up.
	session, err := s.sessions.Begin(ctx, sessionID, conv.ID)
	if err != nil {
		return err
	}
	defer s.sessions.End(session)

	ctx = logging.WithSessionID(ctx, sessionID)
	ctx = logging.WithConversationID(ctx, conv.ID)

	userMsg := &store.Message{ConversationID: conv.ID, Role: store.RoleUser, Content: content}
	if err := s.store.CreateMessage(ctx, userMsg); err != nil {
		return err
	}
	s.events.MessageCreated(conv.ID, userMsg.ID)

	prompt, err := s.buildPrompt(ctx, conv, content)
	if err != nil {
		return err
	}

	deltas, errs := s.llm.Stream(session.Context(), prompt)

	h := c.Response().Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // disable nginx buffering
	c.Response().WriteHeader(http.StatusOK)

	writeEvent(c.Response(), "session", sessionEvent{SessionID: sessionID})
	s.events.ChatStarted(sessionID, conv.ID)
	activeGauge.Inc()
	defer activeGauge.Dec()
	s.logger.Info(ctx, "generation started", zap.Int("prompt_messages", len(prompt)))

	var assistant strings.Builder
	var usage llm.Usage
	finish := ""

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for deltas != nil {
		select {
		case d, ok := <-deltas:
			if !ok {
				deltas = nil
				continue
			}
			if d.Usage != nil {
				usage = *d.Usage
			}
			if d.FinishReason != "" {
				finish = d.FinishReason
			}
			if d.Content != "" {
				assistant.WriteString(d.Content)
				s.tokensStreamed.Add(1)
				writeEvent(c.Response(), "message", messageEvent{Content: d.Content})
			}

		case <-heartbeat.C:
			// Keep proxies from timing the connection out.
			fmt.Fprint(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()
		}
	}
	streamErr := <-errs

	switch {
	case streamErr == nil:
		if finish == "" {
			finish = store.FinishStop
		}
	case errors.Is(streamErr, context.Canceled):
		finish = store.FinishCancelled
	default:
		finish = store.FinishError
	}

	// The request context may already be gone (client disconnect is one
	// of the cancellation paths), so persistence gets its own deadline.
	saveCtx, cancelSave := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelSave()

	text := assistant.String()
	if strings.TrimSpace(text) != "" {
		reply := &store.Message{
			ConversationID:   conv.ID,
			Role:             store.RoleAssistant,
			Content:          text,
			Model:            s.llm.Model(),
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			FinishReason:     finish,
		}
		if err := s.store.CreateMessage(saveCtx, reply); err != nil {
			s.logger.Error(ctx, "persisting assistant message", zap.Error(err))
		} else {
			s.events.MessageCreated(conv.ID, reply.ID)
		}
	}
	if err := s.store.TouchConversation(saveCtx, conv.ID); err != nil {
		s.logger.Warn(ctx, "touching conversation", zap.Error(err))
	}

	if finish == store.FinishCancelled {
		s.events.ChatCancelled(sessionID, conv.ID)
	} else {
		s.events.ChatEnded(sessionID, conv.ID)
	}
	sessionsVec.WithLabelValues(finish).Inc()

	if streamErr != nil && !errors.Is(streamErr, context.Canceled) {
		s.logger.Warn(ctx, "generation failed", zap.Error(streamErr))
		writeEvent(c.Response(), "error", errorEvent{Error: streamErr.Error()})
	}
	writeEvent(c.Response(), "done", doneEvent{
		FinishReason:     finish,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
	})

	s.logger.Info(ctx, "generation finished",
		zap.String("finish_reason", finish),
		zap.Int("completion_tokens", usage.CompletionTokens),
		zap.Int("chars", len(text)))
	return nil
}

// buildPrompt assembles the outbound message list: the conversation's
// system prompt, retrieved document context when available, then the
// recent transcript window, which already includes the user message
// persisted this turn. Everything outbound passes through the scrubber.
func (s *Service) buildPrompt(ctx context.Context, conv *store.Conversation, query string) ([]llm.Message, error) {
	var prompt []llm.Message

	if conv.SystemPrompt != "" {
		prompt = append(prompt, s.outbound(store.RoleSystem, conv.SystemPrompt))
	}

	if s.retriever != nil {
		results, err := s.retriever.Retrieve(ctx, conv.ProjectID, query)
		if err != nil {
			// Retrieval is an enrichment; the turn proceeds without it.
			s.logger.Warn(ctx, "document retrieval failed", zap.Error(err))
		} else if len(results) > 0 {
			prompt = append(prompt, s.outbound(store.RoleSystem, contextBlock(results)))
		}
	}

	history, err := s.store.ListRecentMessages(ctx, conv.ID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("loading conversation history: %w", err)
	}
	for _, m := range history {
		prompt = append(prompt, s.outbound(m.Role, m.Content))
	}
	return prompt, nil
}

func (s *Service) outbound(role, content string) llm.Message {
	clean, _ := s.scrubber.Scrub(content)
	return llm.Message{Role: role, Content: clean}
}

// contextBlock renders retrieved chunks as a system message the model
// can quote from.
func contextBlock(results []vectorstore.SearchResult) string {
	var b strings.Builder
	b.WriteString("Relevant excerpts from the project's documents:\n")
	for _, r := range results {
		name := r.Metadata[ingest.MetaDocumentName]
		if name == "" {
			name = "document"
		}
		fmt.Fprintf(&b, "\n[%s]\n%s\n", name, r.Content)
	}
	b.WriteString("\nUse these excerpts when they answer the question.")
	return b.String()
}

func writeEvent(w *echo.Response, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", data)
	w.Flush()
}
