package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/stateflow/internal/core/error"
)

// CreateSessionRequest is the optional body of POST /v1/sessions.
type CreateSessionRequest struct {
	StateTTL *int `json:"state_ttl,omitempty"`
}

// SessionView is the wire form of a session.
type SessionView struct {
	SessionID    string               `json:"session_id"`
	Messages     []model.InputMessage `json:"messages"`
	Variables    map[string]any       `json:"variables"`
	CreatedAt    int64                `json:"created_at"`
	LastActiveAt int64                `json:"last_active_at"`
	ExpiresAt    int64                `json:"expires_at"`
	TTLSeconds   int                  `json:"ttl_seconds"`
}

func newSessionView(s *model.Session) SessionView {
	msgs := make([]model.InputMessage, 0, len(s.Messages))
	for _, m := range s.Messages {
		if m == nil {
			continue
		}
		msgs = append(msgs, model.InputMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID})
	}
	vars := s.Variables
	if vars == nil {
		vars = map[string]any{}
	}
	return SessionView{
		SessionID:    s.ID,
		Messages:     msgs,
		Variables:    vars,
		CreatedAt:    s.CreatedAt.Unix(),
		LastActiveAt: s.LastActiveAt.Unix(),
		ExpiresAt:    s.ExpiresAt().Unix(),
		TTLSeconds:   s.TTLSeconds,
	}
}

// CreateSession creates an empty session.
// POST /v1/sessions
func (h *Handler) CreateSession(c echo.Context) error {
	var req CreateSessionRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return writeError(c, errx.InvalidRequest("invalid request body: %v", bindMessage(err)))
		}
	}
	var ttl time.Duration
	if req.StateTTL != nil {
		if *req.StateTTL <= 0 {
			return writeError(c, errx.InvalidRequest("state_ttl must be positive"))
		}
		ttl = time.Duration(*req.StateTTL) * time.Second
	}

	s, err := h.service.Sessions().Create(c.Request().Context(), ttl)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, newSessionView(s))
}

// GetSession returns a session without refreshing it.
// GET /v1/sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	s, err := h.service.Sessions().Get(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, newSessionView(s))
}

// ClearSessionState empties messages and variables, keeping id and TTL.
// DELETE /v1/sessions/:session_id/state
func (h *Handler) ClearSessionState(c echo.Context) error {
	s, err := h.service.Sessions().Clear(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, newSessionView(s))
}

// DeleteSession removes a session.
// DELETE /v1/sessions/:session_id
func (h *Handler) DeleteSession(c echo.Context) error {
	if err := h.service.Sessions().Delete(c.Request().Context(), c.Param("session_id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
