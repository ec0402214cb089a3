package domain

// RunQueuedPayload is the payload for run_queued events.
type RunQueuedPayload struct {
	VideoRef string    `json:"video_ref"`
	Config   RunConfig `json:"config"`
}

// AgentStatusPayload is the payload for agent_* lifecycle events.
type AgentStatusPayload struct {
	Agent    string      `json:"agent"`
	Status   AgentStatus `json:"status"`
	Progress int         `json:"progress"`
	Attempt  int         `json:"attempt,omitempty"`
}

// AgentErrorPayload is the payload for agent_error events.
type AgentErrorPayload struct {
	Agent     string `json:"agent"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Attempts  int    `json:"attempts"`
}

// RunCompletedPayload is the payload for run_completed events.
type RunCompletedPayload struct {
	OverallScore float64 `json:"overall_score"`
	ElapsedMs    int64   `json:"elapsed_ms"`
	EventCount   int     `json:"event_count"`
}

// RunFailedPayload is the payload for run_failed events.
type RunFailedPayload struct {
	Code    FailReason `json:"code"`
	Message string     `json:"message"`
}
