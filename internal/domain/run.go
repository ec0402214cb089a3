package domain

import (
	"encoding/json"
	"time"
)

// Run represents a single pipeline execution.
type Run struct {
	RunID     string          `json:"run_id"`
	VideoRef  string          `json:"video_ref"`
	Status    RunStatus       `json:"status"`
	Progress  int             `json:"progress"`
	FailCode  FailReason      `json:"fail_code,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	ElapsedMs int64           `json:"elapsed_ms"`
}

// AgentRecord tracks the execution of one agent within a run.
type AgentRecord struct {
	Name       string      `json:"name"`
	Status     AgentStatus `json:"status"`
	Progress   int         `json:"progress"`
	Confidence float64     `json:"confidence"`
	Error      string      `json:"error,omitempty"`
	Attempts   int         `json:"attempts,omitempty"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	EndedAt    *time.Time  `json:"ended_at,omitempty"`
	ElapsedMs  int64       `json:"elapsed_ms"`
}

// TimelineEvent is one append-only entry in a run's event log.
type TimelineEvent struct {
	EventID   string          `json:"event_id"`
	RunID     string          `json:"run_id"`
	Seq       int64           `json:"seq"`
	Ts        int64           `json:"ts"` // Unix milliseconds
	Type      EventType       `json:"type"`
	Agent     string          `json:"agent,omitempty"`
	Message   string          `json:"message,omitempty"`
	ElapsedMs int64           `json:"elapsed_ms"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// RunSnapshot is the consistent view of a run handed to API clients and
// late event subscribers.
type RunSnapshot struct {
	Run      Run             `json:"run"`
	Agents   []AgentRecord   `json:"agents"`
	Timeline []TimelineEvent `json:"timeline"`
}

// AnalysisResult is the final immutable product of a completed run.
type AnalysisResult struct {
	RunID        string          `json:"run_id"`
	OverallScore float64         `json:"overall_score"`
	Context      json.RawMessage `json:"context"`
	EventCount   int             `json:"event_count"`
	ElapsedMs    int64           `json:"elapsed_ms"`
	CreatedAt    time.Time       `json:"created_at"`
}
