package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/stateflow/internal/core/error"
	logx "github.com/Chative-core-poc-v1/stateflow/pkg/logger"
)

// CreateResponse runs one conversation turn.
// POST /v1/responses
func (h *Handler) CreateResponse(c echo.Context) error {
	var req model.ResponseRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, errx.InvalidRequest("invalid request body: %v", bindMessage(err)))
	}

	if req.Stream {
		return h.streamResponse(c, &req)
	}

	resp, err := h.service.Invoke(c.Request().Context(), &req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// streamResponse delivers events as server-sent events. Each frame is
// "data: <json>"; the final response follows the events, then [DONE].
func (h *Handler) streamResponse(c echo.Context, req *model.ResponseRequest) error {
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return writeError(c, fmt.Errorf("streaming unsupported"))
	}

	ctx := c.Request().Context()
	st, result, err := h.service.Stream(ctx, req)
	if err != nil {
		return writeError(c, err)
	}

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	broken := false
	send := func(v any) {
		if broken {
			return
		}
		data, err := json.Marshal(v)
		if err != nil {
			logx.Error().Err(err).Msg("Failed to encode stream frame")
			return
		}
		if _, err := fmt.Fprintf(w.Writer, "data: %s\n\n", data); err != nil {
			logx.Warn().Err(err).Msg("Client went away during stream")
			broken = true
			return
		}
		flusher.Flush()
	}

	// Drain to the end so the turn can finish and commit.
	for ev := range st.Events() {
		send(ev)
	}
	resp := <-result
	resp.Events = nil
	send(resp)

	if !broken {
		fmt.Fprintf(w.Writer, "data: [DONE]\n\n")
		flusher.Flush()
	}
	return nil
}

func bindMessage(err error) string {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Internal != nil {
			return he.Internal.Error()
		}
		return fmt.Sprint(he.Message)
	}
	return err.Error()
}
