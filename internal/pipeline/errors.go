package pipeline

import "fmt"

// AgentError is the failure an agent reports when its inputs are missing or
// an external call fails. Retryable errors (rate limits, capacity) may be
// retried by the scheduler; permanent ones fail immediately.
type AgentError struct {
	Agent     string
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *AgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent %s: %s: %v", e.Agent, e.Message, e.Err)
	}
	return fmt.Sprintf("agent %s: %s", e.Agent, e.Message)
}

func (e *AgentError) Unwrap() error { return e.Err }

// NewAgentError builds a permanent agent failure.
func NewAgentError(agent, code, message string, err error) *AgentError {
	return &AgentError{Agent: agent, Code: code, Message: message, Err: err}
}

// NewRetryableError builds a transient agent failure eligible for bounded
// retry with backoff.
func NewRetryableError(agent, code, message string, err error) *AgentError {
	return &AgentError{Agent: agent, Code: code, Message: message, Retryable: true, Err: err}
}
