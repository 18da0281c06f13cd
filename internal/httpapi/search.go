package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kilnworks/loom/internal/sanitize"
	"github.com/kilnworks/loom/internal/store"
)

// searchResponse carries hits for the requested type: message hits for
// type=messages, document hits for type=documents.
type searchResponse struct {
	Query   string `json:"query"`
	Type    string `json:"type"`
	Results any    `json:"results"`
}

// handleSearch runs full-text search over messages (default) or
// documents, optionally scoped to one project.
func (s *Server) handleSearch(c echo.Context) error {
	query := sanitize.Text(c.QueryParam("q"), maxQueryRunes)
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'q' is required")
	}

	kind := c.QueryParam("type")
	if kind == "" {
		kind = "messages"
	}
	projectID := c.QueryParam("project_id")
	limit, _ := listParams(c, 20)
	ctx := c.Request().Context()

	resp := searchResponse{Query: query, Type: kind}
	switch kind {
	case "messages":
		hits, err := s.store.SearchMessages(ctx, query, projectID, limit)
		if err != nil {
			return err
		}
		if hits == nil {
			hits = []store.MessageHit{}
		}
		resp.Results = hits
	case "documents":
		hits, err := s.store.SearchDocuments(ctx, query, projectID, limit)
		if err != nil {
			return err
		}
		if hits == nil {
			hits = []store.DocumentHit{}
		}
		resp.Results = hits
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "type must be 'messages' or 'documents'")
	}

	return c.JSON(http.StatusOK, resp)
}
