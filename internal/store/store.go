// Package store persists runs, agent execution records, timeline events and
// final analysis results.
package store

import (
	"context"

	"github.com/edu-data/mas/internal/domain"
)

// Store is the persistence boundary of the orchestrator.
type Store interface {
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	ListRuns(ctx context.Context, limit int) ([]domain.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, progress int) error
	UpdateRunCompleted(ctx context.Context, runID string, status domain.RunStatus, progress int, failCode domain.FailReason, errData []byte) error

	UpsertAgentRecord(ctx context.Context, runID string, rec *domain.AgentRecord) error
	GetAgentRecords(ctx context.Context, runID string) ([]domain.AgentRecord, error)

	CreateEvent(ctx context.Context, event *domain.TimelineEvent) error
	GetEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.TimelineEvent, error)
	CountEvents(ctx context.Context, runID string) (int, error)

	SaveResult(ctx context.Context, result *domain.AnalysisResult) error
	GetResult(ctx context.Context, runID string) (*domain.AnalysisResult, error)

	Close() error
}
