package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edu-data/mas/internal/adapter/inference"
	"github.com/edu-data/mas/internal/adapter/media"
	"github.com/edu-data/mas/internal/bus"
	"github.com/edu-data/mas/internal/config"
	"github.com/edu-data/mas/internal/domain"
	"github.com/edu-data/mas/internal/pipeline/agents"
	"github.com/edu-data/mas/internal/policy"
	"github.com/edu-data/mas/tests/helpers"
)

func newTestService(t *testing.T, extractor media.Extractor, inf inference.Client) *Service {
	t.Helper()

	cfg := &config.Config{
		RunTimeout:        10 * time.Second,
		MaxAttempts:       2,
		RetryBackoff:      time.Millisecond,
		MediaConcurrency:  2,
		VisionConcurrency: 2,
		STTConcurrency:    2,
		LLMConcurrency:    2,
		TimelineWindow:    200,
	}
	db := helpers.NewTestSQLiteStore(t)
	registry, err := agents.DefaultRegistry(extractor, inf)
	if err != nil {
		t.Fatalf("DefaultRegistry failed: %v", err)
	}
	policyEngine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return New(db, bus.New(cfg.TimelineWindow), registry, cfg, policyEngine)
}

func waitForTerminal(t *testing.T, svc *Service, runID string) *domain.Run {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		run, err := svc.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.Status.IsTerminal() {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run did not reach a terminal state")
	return nil
}

func TestSubmitRunsToCompletion(t *testing.T) {
	svc := newTestService(t, media.NewMockExtractor(), inference.NewMockClient())
	ctx := context.Background()

	// Subscribe before submitting so the full live stream is observed.
	resp, err := svc.Submit(ctx, domain.SubmitRequest{
		VideoRef: "file:///videos/lecture.mp4",
		Config:   domain.RunConfig{SampleRate: 0.1, Language: "en"},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if resp.Status != domain.RunStatusQueued {
		t.Fatalf("expected QUEUED, got %s", resp.Status)
	}

	run := waitForTerminal(t, svc, resp.RunID)
	if run.Status != domain.RunStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", run.Status, run.Error)
	}
	if run.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", run.Progress)
	}
	if run.EndedAt == nil {
		t.Fatal("terminal run missing ended_at")
	}

	snapshot, err := svc.Snapshot(ctx, resp.RunID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snapshot.Agents) != 8 {
		t.Fatalf("expected 8 agent records, got %d", len(snapshot.Agents))
	}
	for _, rec := range snapshot.Agents {
		if rec.Status != domain.AgentStatusDone {
			t.Fatalf("agent %s ended %s", rec.Name, rec.Status)
		}
	}

	// Timeline: queued first, completed last, strictly increasing seq.
	events := snapshot.Timeline
	if len(events) < 3 {
		t.Fatalf("expected a populated timeline, got %d events", len(events))
	}
	if events[0].Type != domain.EventTypeRunQueued {
		t.Fatalf("first event %s", events[0].Type)
	}
	if events[len(events)-1].Type != domain.EventTypeRunCompleted {
		t.Fatalf("last event %s", events[len(events)-1].Type)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Seq <= events[i-1].Seq {
			t.Fatalf("timeline seq not increasing at %d: %+v", i, events[i])
		}
	}

	result, err := svc.Result(ctx, resp.RunID)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if result.OverallScore <= 0 || result.OverallScore > 100 {
		t.Fatalf("overall score out of range: %v", result.OverallScore)
	}
	if result.EventCount != len(events) {
		t.Fatalf("result event count %d, timeline has %d", result.EventCount, len(events))
	}
	if len(result.Context) == 0 {
		t.Fatal("result missing context document")
	}
}

func TestRunStartedAccompaniesFirstDispatch(t *testing.T) {
	svc := newTestService(t, media.NewMockExtractor(), inference.NewMockClient())
	ctx := context.Background()

	resp, err := svc.Submit(ctx, domain.SubmitRequest{VideoRef: "file:///videos/lecture.mp4"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitForTerminal(t, svc, resp.RunID)

	snapshot, err := svc.Snapshot(ctx, resp.RunID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	events := snapshot.Timeline
	if len(events) < 3 {
		t.Fatalf("expected a populated timeline, got %d events", len(events))
	}

	// run_started is emitted with the first agent dispatch: it directly
	// follows run_queued and directly precedes extract's agent_queued.
	if events[0].Type != domain.EventTypeRunQueued {
		t.Fatalf("first event %s, want run_queued", events[0].Type)
	}
	if events[1].Type != domain.EventTypeRunStarted {
		t.Fatalf("second event %s, want run_started", events[1].Type)
	}
	if events[2].Type != domain.EventTypeAgentQueued || events[2].Agent != agents.NameExtract {
		t.Fatalf("third event %s/%s, want agent_queued for extract", events[2].Type, events[2].Agent)
	}
}

func TestSubmitRejectsBlockedScheme(t *testing.T) {
	svc := newTestService(t, media.NewMockExtractor(), inference.NewMockClient())

	_, err := svc.Submit(context.Background(), domain.SubmitRequest{
		VideoRef: "ftp://example.com/lecture.mp4",
	})
	var pe *PolicyError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PolicyError, got %v", err)
	}
}

func TestSubmitRequiresVideoRef(t *testing.T) {
	svc := newTestService(t, media.NewMockExtractor(), inference.NewMockClient())
	if _, err := svc.Submit(context.Background(), domain.SubmitRequest{}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestRunFailurePersistsFailCode(t *testing.T) {
	inf := inference.NewMockClient()
	inf.FailTranscribe = errors.New("stt down")
	svc := newTestService(t, media.NewMockExtractor(), inf)
	ctx := context.Background()

	resp, err := svc.Submit(ctx, domain.SubmitRequest{VideoRef: "file:///videos/lecture.mp4"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	run := waitForTerminal(t, svc, resp.RunID)
	if run.Status != domain.RunStatusFailed {
		t.Fatalf("expected FAILED, got %s", run.Status)
	}
	if run.FailCode != domain.FailReasonAgentError {
		t.Fatalf("expected fail code agent_error, got %s", run.FailCode)
	}

	snapshot, err := svc.Snapshot(ctx, resp.RunID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	last := snapshot.Timeline[len(snapshot.Timeline)-1]
	if last.Type != domain.EventTypeRunFailed {
		t.Fatalf("last event %s, want run_failed", last.Type)
	}

	if _, err := svc.Result(ctx, resp.RunID); err == nil {
		t.Fatal("failed run must not expose a result")
	}
}

func TestCancelStopsRun(t *testing.T) {
	// A glacial extractor keeps the run in flight long enough to cancel.
	svc := newTestService(t, &slowExtractor{}, inference.NewMockClient())
	ctx := context.Background()

	resp, err := svc.Submit(ctx, domain.SubmitRequest{VideoRef: "file:///videos/lecture.mp4"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if err := svc.Cancel(ctx, resp.RunID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	run := waitForTerminal(t, svc, resp.RunID)
	if run.Status != domain.RunStatusFailed {
		t.Fatalf("expected FAILED, got %s", run.Status)
	}
	if run.FailCode != domain.FailReasonCancelled {
		t.Fatalf("expected fail code cancelled, got %s", run.FailCode)
	}

	// Cancelling again is a no-op.
	if err := svc.Cancel(ctx, resp.RunID); err != nil {
		t.Fatalf("second Cancel failed: %v", err)
	}
}

func TestCancelUnknownRun(t *testing.T) {
	svc := newTestService(t, media.NewMockExtractor(), inference.NewMockClient())
	if err := svc.Cancel(context.Background(), "run_ghost"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

// slowExtractor blocks until its context is cancelled.
type slowExtractor struct{}

func (s *slowExtractor) Extract(ctx context.Context, videoRef string, sampleRate float64) (*media.Extraction, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
