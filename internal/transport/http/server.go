// Package http provides the HTTP server for the analysis service.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/edu-data/mas/internal/bus"
	"github.com/edu-data/mas/internal/service"
	v1 "github.com/edu-data/mas/internal/transport/http/v1"
)

// NewServer creates and configures the public HTTP server. It handles
// submissions, run queries, cancellation and the SSE event stream.
func NewServer(svc *service.Service, eventBus *bus.Bus, apiKey string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	if apiKey != "" {
		e.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			// The WebSocket endpoint authenticates via the hello message.
			Skipper: func(c echo.Context) bool {
				return c.Path() == "/health" || c.Path() == "/ws"
			},
			Validator: func(key string, c echo.Context) (bool, error) {
				return key == apiKey, nil
			},
		}))
	}

	// Handlers
	v1Handler := v1.NewHandler(svc, eventBus)
	v1Handler.RegisterRoutes(e)

	return e
}
