package service

import (
	"errors"
	"fmt"
)

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("run not found")

// ErrResultNotReady is returned when a run has not completed yet.
var ErrResultNotReady = errors.New("result not ready")

// PolicyError is returned when the submission policy blocks a request.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("submission blocked by policy: %s", e.Reason)
}
