// Package v1 provides the HTTP API of the orchestration engine.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph"
	errx "github.com/Chative-core-poc-v1/stateflow/internal/core/error"
	logx "github.com/Chative-core-poc-v1/stateflow/pkg/logger"
)

// Handler handles HTTP requests.
type Handler struct {
	service *graph.Service
}

// NewHandler creates a new handler.
func NewHandler(service *graph.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the public routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/responses", h.CreateResponse)

	e.POST("/v1/sessions", h.CreateSession)
	e.GET("/v1/sessions/:session_id", h.GetSession)
	e.DELETE("/v1/sessions/:session_id/state", h.ClearSessionState)
	e.DELETE("/v1/sessions/:session_id", h.DeleteSession)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// writeError maps err to its status. Server side failures only expose the
// safe message.
func writeError(c echo.Context, err error) error {
	status := errx.StatusOf(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logx.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
		msg = errx.SystemErrorMessage
		var appErr *errx.AppError
		if errors.As(err, &appErr) && appErr.Message != "" {
			msg = appErr.Message
		}
	}
	return c.JSON(status, ErrorResponse{Error: ErrorBody{Type: errx.Code(err), Message: msg}})
}
