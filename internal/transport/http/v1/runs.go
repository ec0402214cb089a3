package v1

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/edu-data/mas/internal/domain"
	"github.com/edu-data/mas/internal/service"
)

// SubmitAnalysis handles POST /v1/analyses.
func (h *Handler) SubmitAnalysis(c echo.Context) error {
	var req domain.SubmitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.VideoRef == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "video_ref is required"})
	}

	resp, err := h.service.Submit(c.Request().Context(), req)
	if err != nil {
		var pe *service.PolicyError
		if errors.As(err, &pe) {
			return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": pe.Error()})
		}
		log.Printf("ERROR: failed to submit analysis: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusAccepted, resp)
}

// ListAnalyses handles GET /v1/analyses.
func (h *Handler) ListAnalyses(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := h.service.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if runs == nil {
		runs = []domain.Run{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

// GetAnalysis handles GET /v1/analyses/:run_id. It returns the full run
// snapshot: status, agent records and the stored timeline.
func (h *Handler) GetAnalysis(c echo.Context) error {
	runID := c.Param("run_id")

	snapshot, err := h.service.Snapshot(c.Request().Context(), runID)
	if err != nil {
		if errors.Is(err, service.ErrRunNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, snapshot)
}

// GetAnalysisResult handles GET /v1/analyses/:run_id/result.
func (h *Handler) GetAnalysisResult(c echo.Context) error {
	runID := c.Param("run_id")

	result, err := h.service.Result(c.Request().Context(), runID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRunNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
		case errors.Is(err, service.ErrResultNotReady):
			return c.JSON(http.StatusConflict, map[string]string{"error": "run has not completed yet"})
		default:
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
	}

	return c.JSON(http.StatusOK, result)
}

// CancelAnalysis handles POST /v1/analyses/:run_id/cancel.
func (h *Handler) CancelAnalysis(c echo.Context) error {
	runID := c.Param("run_id")

	if err := h.service.Cancel(c.Request().Context(), runID); err != nil {
		if errors.Is(err, service.ErrRunNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID, "status": "cancelling"})
}
