package service

import (
	"context"
	"fmt"

	"github.com/edu-data/mas/internal/domain"
)

// GetRun returns the run row, or ErrRunNotFound.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// ListRuns returns the most recent runs.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	return s.store.ListRuns(ctx, limit)
}

// Snapshot assembles the full view of a run: row, agent records and the
// stored timeline in sequence order.
func (s *Service) Snapshot(ctx context.Context, runID string) (*domain.RunSnapshot, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	agents, err := s.store.GetAgentRecords(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent records: %w", err)
	}
	events, err := s.store.GetEvents(ctx, runID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	return &domain.RunSnapshot{Run: *run, Agents: agents, Timeline: events}, nil
}

// AgentRecords returns the per-agent execution records for a run.
func (s *Service) AgentRecords(ctx context.Context, runID string) ([]domain.AgentRecord, error) {
	return s.store.GetAgentRecords(ctx, runID)
}

// Result returns the final analysis result of a completed run.
// ErrResultNotReady is returned while the run is still in flight or failed
// without producing a result.
func (s *Service) Result(ctx context.Context, runID string) (*domain.AnalysisResult, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	result, err := s.store.GetResult(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	if result == nil {
		if !run.Status.IsTerminal() {
			return nil, ErrResultNotReady
		}
		return nil, fmt.Errorf("run %s ended %s without a result", runID, run.Status)
	}
	return result, nil
}

// Events returns stored timeline events after the given sequence number.
func (s *Service) Events(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.TimelineEvent, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.store.GetEvents(ctx, runID, afterSeq, limit)
}
