// Package v1 provides the public HTTP API handlers.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/edu-data/mas/internal/bus"
	"github.com/edu-data/mas/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	bus     *bus.Bus
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service, eventBus *bus.Bus) *Handler {
	return &Handler{
		service: svc,
		bus:     eventBus,
	}
}

// RegisterRoutes registers the public routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/analyses", h.SubmitAnalysis)
	e.GET("/v1/analyses", h.ListAnalyses)
	e.GET("/v1/analyses/:run_id", h.GetAnalysis)
	e.GET("/v1/analyses/:run_id/result", h.GetAnalysisResult)
	e.POST("/v1/analyses/:run_id/cancel", h.CancelAnalysis)
	e.GET("/v1/analyses/:run_id/events", h.StreamAnalysisEvents)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
