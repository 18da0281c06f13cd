package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/kilnworks/loom/internal/chat"
	"github.com/kilnworks/loom/internal/sanitize"
)

// titleTimeout bounds the post-stream title completion.
const titleTimeout = 15 * time.Second

// handleChatStream relays one chat turn as an SSE stream. The relay
// returns validation and conflict errors before committing the
// response, so the central error mapping still applies to them.
func (s *Server) handleChatStream(c echo.Context) error {
	var req chat.StreamRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := s.chat.Stream(c, req); err != nil {
		return err
	}

	// Titling runs after the final event so it never delays tokens. The
	// request context may be gone once the stream closes, so the
	// completion gets its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
	defer cancel()
	if s.chat.AutoTitle(ctx, req.ConversationID) {
		s.cache.InvalidateConversation(req.ConversationID)
	}
	return nil
}

type cancelRequest struct {
	SessionID string `json:"session_id"`
}

type cancelResponse struct {
	SessionID string `json:"session_id"`
	Cancelled bool   `json:"cancelled"`
}

// handleChatCancel aborts an in-flight generation. An unknown session
// id reports cancelled=false instead of failing: the cancel request
// races normal completion.
func (s *Server) handleChatCancel(c echo.Context) error {
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := sanitize.ValidateID(req.SessionID, "session_id"); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, cancelResponse{
		SessionID: req.SessionID,
		Cancelled: s.chat.Cancel(req.SessionID),
	})
}
