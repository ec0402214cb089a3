package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/edu-data/mas/internal/domain"
	"github.com/edu-data/mas/internal/service"
)

// StreamAnalysisEvents streams a run's timeline via SSE.
// GET /v1/analyses/:run_id/events?after_seq=N
//
// A fresh subscriber gets a synthesized snapshot frame (run row + agent
// records) followed by the trailing timeline window, never a historical
// replay of every stored event. Clients reconnecting with after_seq get the
// stored events past their cursor instead of a snapshot. Either way live
// events follow until the run reaches a terminal state; sequence numbers
// dedupe the boundary, so events arrive exactly once and in order.
func (h *Handler) StreamAnalysisEvents(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	afterSeq := int64(0)
	if v := c.QueryParam("after_seq"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			afterSeq = n
		}
	}

	run, err := h.service.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, service.ErrRunNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	// Subscribe before the snapshot or replay so nothing published in
	// between is lost.
	sub, window := h.bus.Subscribe(runID)
	defer h.bus.Unsubscribe(runID, sub)

	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	if flusher, ok := c.Response().Writer.(http.Flusher); ok {
		flusher.Flush()
	}

	lastSeq := afterSeq

	if afterSeq == 0 {
		records, err := h.service.AgentRecords(ctx, runID)
		if err != nil {
			log.Printf("ERROR: failed to load agent records: %v", err)
			return nil
		}
		if err := h.sendSSESnapshot(c, domain.RunSnapshot{Run: *run, Agents: records}); err != nil {
			return nil
		}
	} else {
		stored, err := h.service.Events(ctx, runID, afterSeq, 0)
		if err != nil {
			log.Printf("ERROR: failed to load stored events: %v", err)
			return nil
		}
		for _, event := range stored {
			if err := h.sendSSEEvent(c, event); err != nil {
				return nil
			}
			lastSeq = event.Seq
			if isTerminalEvent(event.Type) {
				return nil
			}
		}
	}
	for _, event := range window {
		if event.Seq <= lastSeq {
			continue
		}
		if err := h.sendSSEEvent(c, event); err != nil {
			return nil
		}
		lastSeq = event.Seq
		if isTerminalEvent(event.Type) {
			return nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			// Client disconnected
			return nil

		case event, ok := <-sub.C:
			if !ok {
				// Run finished (or this subscriber fell behind); either way
				// the stream is over.
				return nil
			}
			if event.Seq <= lastSeq {
				continue
			}
			if err := h.sendSSEEvent(c, event); err != nil {
				return nil
			}
			lastSeq = event.Seq
			if isTerminalEvent(event.Type) {
				return nil
			}
		}
	}
}

func isTerminalEvent(t domain.EventType) bool {
	return t == domain.EventTypeRunCompleted ||
		t == domain.EventTypeRunFailed ||
		t == domain.EventTypeRunCancelled
}

// sendSSESnapshot writes the initial state frame for a fresh subscriber.
// The trailing timeline window follows as ordinary event frames.
func (h *Handler) sendSSESnapshot(c echo.Context, snap domain.RunSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if _, err := fmt.Fprintf(c.Response().Writer, "event: snapshot\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response().Writer, "data: %s\n\n", data); err != nil {
		return err
	}

	if flusher, ok := c.Response().Writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// sendSSEEvent writes a single event in SSE format and flushes it.
func (h *Handler) sendSSEEvent(c echo.Context, event domain.TimelineEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(c.Response().Writer, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response().Writer, "data: %s\n\n", data); err != nil {
		return err
	}

	if flusher, ok := c.Response().Writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}
