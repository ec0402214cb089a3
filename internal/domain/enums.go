// Package domain defines the core domain models for the analysis orchestrator.
package domain

// RunStatus represents the overall status of a pipeline run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "QUEUED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// IsTerminal reports whether the run status is final.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// AgentStatus represents the status of a single agent within a run.
type AgentStatus string

const (
	AgentStatusIdle    AgentStatus = "IDLE"
	AgentStatusQueued  AgentStatus = "QUEUED"
	AgentStatusRunning AgentStatus = "RUNNING"
	AgentStatusDone    AgentStatus = "DONE"
	AgentStatusError   AgentStatus = "ERROR"
	AgentStatusSkipped AgentStatus = "SKIPPED"
)

// agentStatusRank orders statuses along the allowed transition path.
// Terminal statuses share the highest rank; a record never moves backward.
var agentStatusRank = map[AgentStatus]int{
	AgentStatusIdle:    0,
	AgentStatusQueued:  1,
	AgentStatusRunning: 2,
	AgentStatusDone:    3,
	AgentStatusError:   3,
	AgentStatusSkipped: 3,
}

// Rank returns the monotonic ordering rank of the status.
func (s AgentStatus) Rank() int {
	return agentStatusRank[s]
}

// IsTerminal reports whether the agent status is final.
func (s AgentStatus) IsTerminal() bool {
	return s == AgentStatusDone || s == AgentStatusError || s == AgentStatusSkipped
}

// EventType represents the type of a timeline event.
type EventType string

const (
	EventTypeRunQueued    EventType = "run_queued"
	EventTypeRunStarted   EventType = "run_started"
	EventTypeRunCompleted EventType = "run_completed"
	EventTypeRunFailed    EventType = "run_failed"
	EventTypeRunCancelled EventType = "run_cancelled"

	EventTypeAgentQueued   EventType = "agent_queued"
	EventTypeAgentStarted  EventType = "agent_started"
	EventTypeAgentProgress EventType = "agent_progress"
	EventTypeAgentDone     EventType = "agent_done"
	EventTypeAgentError    EventType = "agent_error"
	EventTypeAgentSkipped  EventType = "agent_skipped"
)

// FailReason distinguishes why a run ended in FAILED.
type FailReason string

const (
	FailReasonAgentError FailReason = "agent_error"
	FailReasonCancelled  FailReason = "cancelled"
	FailReasonTimeout    FailReason = "timeout"
)
