package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/kilnworks/loom/internal/sanitize"
	"github.com/kilnworks/loom/internal/store"
)

// listParams reads limit/offset query parameters with a route-specific
// default and a shared hard cap.
func listParams(c echo.Context, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}
	if raw := c.QueryParam("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

type createConversationRequest struct {
	ProjectID    string `json:"project_id"`
	Title        string `json:"title"`
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
}

func (r *createConversationRequest) Validate() error {
	if r.ProjectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project_id is required")
	}
	r.Title = sanitize.Text(r.Title, maxTitleRunes)
	if r.Title == "" {
		r.Title = store.DefaultConversationTitle
	}
	r.SystemPrompt = sanitize.Text(r.SystemPrompt, maxSystemPromptRunes)
	return nil
}

func (s *Server) handleConversationCreate(c echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	ctx := c.Request().Context()
	project, err := s.cache.Project(ctx, req.ProjectID)
	if err != nil {
		return err
	}

	conv := &store.Conversation{
		ProjectID:    project.ID,
		Title:        req.Title,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return err
	}
	s.events.ConversationCreated(project.ID, conv.ID)

	return c.JSON(http.StatusCreated, conv)
}

func (s *Server) handleConversationList(c echo.Context) error {
	projectID := c.QueryParam("project_id")
	if projectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project_id query parameter is required")
	}

	limit, offset := listParams(c, 50)
	conversations, err := s.store.ListConversations(c.Request().Context(), projectID, limit, offset)
	if err != nil {
		return err
	}
	if conversations == nil {
		conversations = []store.Conversation{}
	}
	return c.JSON(http.StatusOK, conversations)
}

func (s *Server) handleConversationGet(c echo.Context) error {
	conv, err := s.cache.Conversation(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conv)
}

type updateConversationRequest struct {
	Title        *string `json:"title"`
	Model        *string `json:"model"`
	SystemPrompt *string `json:"system_prompt"`
}

func (r *updateConversationRequest) Validate() error {
	if r.Title != nil {
		title := sanitize.Text(*r.Title, maxTitleRunes)
		if title == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "conversation title cannot be empty")
		}
		r.Title = &title
	}
	if r.SystemPrompt != nil {
		prompt := sanitize.Text(*r.SystemPrompt, maxSystemPromptRunes)
		r.SystemPrompt = &prompt
	}
	return nil
}

func (s *Server) handleConversationUpdate(c echo.Context) error {
	var req updateConversationRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	ctx := c.Request().Context()
	conv, err := s.store.GetConversation(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	if req.Title != nil {
		conv.Title = *req.Title
	}
	if req.Model != nil {
		conv.Model = *req.Model
	}
	if req.SystemPrompt != nil {
		conv.SystemPrompt = *req.SystemPrompt
	}

	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return err
	}
	s.cache.InvalidateConversation(conv.ID)
	s.events.ConversationUpdated(conv.ID)

	return c.JSON(http.StatusOK, conv)
}

func (s *Server) handleConversationDelete(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if err := s.store.DeleteConversation(ctx, id); err != nil {
		return err
	}
	s.cache.InvalidateConversation(id)
	s.events.ConversationDeleted(id)

	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleMessageList(c echo.Context) error {
	ctx := c.Request().Context()

	// Resolve the conversation first so an unknown id is a 404, not an
	// empty list.
	conv, err := s.cache.Conversation(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	limit, offset := listParams(c, 100)
	messages, err := s.store.ListMessages(ctx, conv.ID, limit, offset)
	if err != nil {
		return err
	}
	if messages == nil {
		messages = []store.Message{}
	}
	return c.JSON(http.StatusOK, messages)
}

func (s *Server) handleMessageDelete(c echo.Context) error {
	if err := s.store.DeleteMessage(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
