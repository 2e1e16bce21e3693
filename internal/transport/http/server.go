// Package http provides the HTTP server of the orchestration engine.
package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/graph"
	v1 "github.com/Chative-core-poc-v1/stateflow/internal/transport/http/v1"
	logx "github.com/Chative-core-poc-v1/stateflow/pkg/logger"
)

// NewServer creates and configures the public HTTP server.
func NewServer(svc *graph.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1.NewHandler(svc).RegisterRoutes(e)

	return e
}

// RequestLogger writes one structured access log line per request.
func RequestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := logx.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = logx.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency.Round(time.Microsecond)).
				Msg("HTTP request")
			return nil
		},
	})
}
