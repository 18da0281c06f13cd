package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/kilnworks/loom/internal/chat"
	"github.com/kilnworks/loom/internal/ingest"
	"github.com/kilnworks/loom/internal/sanitize"
	"github.com/kilnworks/loom/internal/store"
)

// errorBody is the JSON error envelope every failed request returns.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// errorHandler maps errors to the envelope. Sentinel errors from the
// service layers carry their status here so handlers can return them
// raw.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, code, message := mapError(err)
	if status >= http.StatusInternalServerError {
		// Internal details go to the log, never to the client.
		s.logger.Error(c.Request().Context(), "request failed",
			zap.String("uri", c.Request().RequestURI),
			zap.Error(err))
		message = "internal error"
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

func mapError(err error) (status int, code, message string) {
	var he *echo.HTTPError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, store.ErrNameTaken):
		return http.StatusConflict, "name_taken", err.Error()
	case errors.Is(err, chat.ErrSessionActive):
		return http.StatusConflict, "session_active", err.Error()
	case errors.Is(err, store.ErrInvalidInput),
		errors.Is(err, sanitize.ErrInvalidID),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, ingest.ErrBinaryContent):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.As(err, &he):
		return he.Code, codeForStatus(he.Code), httpErrorMessage(he)
	default:
		return http.StatusInternalServerError, "internal", err.Error()
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		if status >= 500 {
			return "internal"
		}
		return "invalid_request"
	}
}

func httpErrorMessage(he *echo.HTTPError) string {
	if msg, ok := he.Message.(string); ok {
		return msg
	}
	return http.StatusText(he.Code)
}
