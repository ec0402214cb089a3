package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/edu-data/mas/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &domain.Run{
		RunID:     "run_1",
		VideoRef:  "file:///lecture.mp4",
		Status:    domain.RunStatusQueued,
		CreatedAt: time.Now(),
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.GetRun(ctx, "run_1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got == nil || got.Status != domain.RunStatusQueued || got.VideoRef != "file:///lecture.mp4" {
		t.Fatalf("unexpected run: %+v", got)
	}
	if got.StartedAt != nil || got.EndedAt != nil {
		t.Fatalf("fresh run should have no timestamps: %+v", got)
	}

	if err := s.UpdateRunStatus(ctx, "run_1", domain.RunStatusRunning, 25); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}
	got, _ = s.GetRun(ctx, "run_1")
	if got.Status != domain.RunStatusRunning || got.Progress != 25 {
		t.Fatalf("unexpected run after update: %+v", got)
	}
	if got.StartedAt == nil {
		t.Fatal("started_at should be stamped on first RUNNING transition")
	}
	firstStart := *got.StartedAt

	// A later progress update must not move started_at.
	if err := s.UpdateRunStatus(ctx, "run_1", domain.RunStatusRunning, 60); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}
	got, _ = s.GetRun(ctx, "run_1")
	if !got.StartedAt.Equal(firstStart) {
		t.Fatalf("started_at moved: %v -> %v", firstStart, got.StartedAt)
	}

	errData, _ := json.Marshal(map[string]string{"code": "agent_error", "message": "boom"})
	if err := s.UpdateRunCompleted(ctx, "run_1", domain.RunStatusFailed, 60, domain.FailReasonAgentError, errData); err != nil {
		t.Fatalf("UpdateRunCompleted: %v", err)
	}
	got, _ = s.GetRun(ctx, "run_1")
	if got.Status != domain.RunStatusFailed || got.FailCode != domain.FailReasonAgentError {
		t.Fatalf("unexpected terminal run: %+v", got)
	}
	if got.EndedAt == nil || len(got.Error) == 0 {
		t.Fatalf("terminal run missing ended_at or error: %+v", got)
	}
}

func TestGetRunMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetRun(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		run := &domain.Run{
			RunID:     "run_" + string(rune('a'+i)),
			VideoRef:  "file:///v.mp4",
			Status:    domain.RunStatusQueued,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].RunID != "run_c" {
		t.Fatalf("expected newest first, got %s", runs[0].RunID)
	}
}

func TestAgentRecordUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateRun(ctx, &domain.Run{RunID: "run_1", VideoRef: "v", Status: domain.RunStatusRunning, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	started := time.Now()
	rec := &domain.AgentRecord{Name: "vision", Status: domain.AgentStatusRunning, Progress: 40, Attempts: 1, StartedAt: &started}
	if err := s.UpsertAgentRecord(ctx, "run_1", rec); err != nil {
		t.Fatalf("UpsertAgentRecord: %v", err)
	}

	ended := started.Add(2 * time.Second)
	rec.Status = domain.AgentStatusDone
	rec.Progress = 100
	rec.Confidence = 0.87
	rec.EndedAt = &ended
	rec.ElapsedMs = 2000
	if err := s.UpsertAgentRecord(ctx, "run_1", rec); err != nil {
		t.Fatalf("UpsertAgentRecord update: %v", err)
	}

	records, err := s.GetAgentRecords(ctx, "run_1")
	if err != nil {
		t.Fatalf("GetAgentRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	got := records[0]
	if got.Status != domain.AgentStatusDone || got.Progress != 100 || got.Confidence != 0.87 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.StartedAt == nil || got.EndedAt == nil || got.ElapsedMs != 2000 {
		t.Fatalf("timestamps lost: %+v", got)
	}
}

func TestEventsOrderedBySeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateRun(ctx, &domain.Run{RunID: "run_1", VideoRef: "v", Status: domain.RunStatusRunning, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	for seq := int64(1); seq <= 4; seq++ {
		ev := &domain.TimelineEvent{
			EventID: "evt_" + string(rune('0'+seq)),
			RunID:   "run_1",
			Seq:     seq,
			Ts:      time.Now().UnixMilli(),
			Type:    domain.EventTypeAgentProgress,
			Agent:   "vision",
			Payload: json.RawMessage(`{"progress":10}`),
		}
		if err := s.CreateEvent(ctx, ev); err != nil {
			t.Fatalf("CreateEvent: %v", err)
		}
	}

	events, err := s.GetEvents(ctx, "run_1", 1, 0)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events after seq 1, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Seq != int64(i+2) {
			t.Fatalf("events out of order: %+v", events)
		}
	}

	n, err := s.CountEvents(ctx, "run_1")
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 events, got %d", n)
	}
}

func TestResultRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateRun(ctx, &domain.Run{RunID: "run_1", VideoRef: "v", Status: domain.RunStatusCompleted, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	result := &domain.AnalysisResult{
		RunID:        "run_1",
		OverallScore: 72.5,
		Context:      json.RawMessage(`{"slots":{}}`),
		EventCount:   17,
		ElapsedMs:    4200,
		CreatedAt:    time.Now(),
	}
	if err := s.SaveResult(ctx, result); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	got, err := s.GetResult(ctx, "run_1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got == nil || got.OverallScore != 72.5 || got.EventCount != 17 {
		t.Fatalf("unexpected result: %+v", got)
	}

	missing, err := s.GetResult(ctx, "run_2")
	if err != nil {
		t.Fatalf("GetResult missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing result, got %+v", missing)
	}
}
