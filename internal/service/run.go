package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/edu-data/mas/internal/domain"
	"github.com/edu-data/mas/internal/pipeline"
	"github.com/edu-data/mas/internal/pipeline/agents"
)

// runState is the in-memory side of an active run: the event sequence
// counter, per-agent records being built up, and the cancel hook.
type runState struct {
	runID     string
	createdAt time.Time
	cancel    context.CancelFunc

	seq          int64
	agents       map[string]*domain.AgentRecord
	lastProgress int
	started      bool
}

func (rs *runState) nextSeq() int64 {
	rs.seq++
	return rs.seq
}

// Submit validates a request against the submission policy, creates the run
// and kicks off asynchronous pipeline execution.
func (s *Service) Submit(ctx context.Context, req domain.SubmitRequest) (*domain.SubmitResponse, error) {
	if req.VideoRef == "" {
		return nil, fmt.Errorf("video_ref is required")
	}

	if s.policyEngine != nil {
		decision, reason, err := s.policyEngine.Evaluate(ctx, map[string]interface{}{
			"video_ref":        req.VideoRef,
			"max_duration_sec": req.Config.MaxDurationSec,
			"language":         req.Config.Language,
		})
		if err != nil {
			return nil, fmt.Errorf("policy evaluation failed: %w", err)
		}
		if decision == "block" {
			return nil, &PolicyError{Reason: reason}
		}
	}

	runID := "run_" + uuid.New().String()[:8]
	now := time.Now()
	run := &domain.Run{
		RunID:     runID,
		VideoRef:  req.VideoRef,
		Status:    domain.RunStatusQueued,
		CreatedAt: now,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rs := &runState{
		runID:     runID,
		createdAt: now,
		cancel:    cancel,
		agents:    make(map[string]*domain.AgentRecord),
	}
	s.mu.Lock()
	s.runs[runID] = rs
	s.mu.Unlock()

	if err := s.recordEvent(ctx, rs, domain.EventTypeRunQueued, "", "", domain.RunQueuedPayload{
		VideoRef: req.VideoRef,
		Config:   req.Config,
	}); err != nil {
		log.Printf("ERROR: failed to record run_queued event: %v", err)
	}

	go s.executeRun(runCtx, rs, req)

	return &domain.SubmitResponse{RunID: runID, Status: domain.RunStatusQueued}, nil
}

// executeRun drives one run to a terminal state. It owns every store write
// for the run after submission; scheduler notifications fire on this
// goroutine, so run state mutations here need no locking.
func (s *Service) executeRun(ctx context.Context, rs *runState, req domain.SubmitRequest) {
	defer func() {
		rs.cancel()
		s.mu.Lock()
		delete(s.runs, rs.runID)
		s.mu.Unlock()
	}()

	// Store writes must survive cancellation of the run context.
	dbCtx := context.Background()

	pc := pipeline.NewContext(req.VideoRef, req.Config)
	sched := pipeline.NewScheduler(s.registry, pc, pipeline.Options{
		Limits: map[pipeline.ResourceClass]int64{
			pipeline.ResourceMedia:  int64(s.config.MediaConcurrency),
			pipeline.ResourceVision: int64(s.config.VisionConcurrency),
			pipeline.ResourceSTT:    int64(s.config.STTConcurrency),
			pipeline.ResourceLLM:    int64(s.config.LLMConcurrency),
		},
		Timeout:        s.config.RunTimeout,
		MaxAttempts:    s.config.MaxAttempts,
		InitialBackoff: s.config.RetryBackoff,
		Notify: func(n pipeline.Notification) {
			s.onNotification(dbCtx, rs, n)
		},
	})

	outcome := sched.Run(ctx)
	elapsed := time.Since(rs.createdAt)

	switch outcome.Status {
	case domain.RunStatusCompleted:
		s.completeRun(dbCtx, rs, pc, outcome, elapsed)
	default:
		s.failRun(dbCtx, rs, outcome)
	}

	s.bus.CloseRun(rs.runID)
}

func (s *Service) completeRun(ctx context.Context, rs *runState, pc *pipeline.Context, outcome pipeline.Outcome, elapsed time.Duration) {
	contextData, err := pc.MarshalResult()
	if err != nil {
		log.Printf("ERROR: failed to marshal run context: %v", err)
	}

	var overall float64
	if slot, ok := pc.Get(agents.NameMaster); ok {
		if report, ok := slot.Payload.(*agents.MasterReport); ok {
			overall = report.OverallScore
		}
	}

	eventCount, err := s.store.CountEvents(ctx, rs.runID)
	if err != nil {
		log.Printf("ERROR: failed to count events: %v", err)
	}
	eventCount++ // include the terminal event recorded below

	if err := s.recordEvent(ctx, rs, domain.EventTypeRunCompleted, "", "", domain.RunCompletedPayload{
		OverallScore: overall,
		ElapsedMs:    elapsed.Milliseconds(),
		EventCount:   eventCount,
	}); err != nil {
		log.Printf("ERROR: failed to record run_completed event: %v", err)
	}

	if err := s.store.SaveResult(ctx, &domain.AnalysisResult{
		RunID:        rs.runID,
		OverallScore: overall,
		Context:      contextData,
		EventCount:   eventCount,
		ElapsedMs:    elapsed.Milliseconds(),
		CreatedAt:    time.Now(),
	}); err != nil {
		log.Printf("ERROR: failed to save result: %v", err)
	}

	// The run row flips terminal last, so a poller that sees COMPLETED is
	// guaranteed a full timeline and a stored result.
	if err := s.store.UpdateRunCompleted(ctx, rs.runID, domain.RunStatusCompleted, outcome.Progress, "", nil); err != nil {
		log.Printf("ERROR: failed to finalize run: %v", err)
	}
}

func (s *Service) failRun(ctx context.Context, rs *runState, outcome pipeline.Outcome) {
	payload := domain.RunFailedPayload{
		Code:    outcome.FailCode,
		Message: outcome.FailMessage,
	}

	eventType := domain.EventTypeRunFailed
	if outcome.FailCode == domain.FailReasonCancelled {
		eventType = domain.EventTypeRunCancelled
	}
	if err := s.recordEvent(ctx, rs, eventType, "", "", payload); err != nil {
		log.Printf("ERROR: failed to record terminal event: %v", err)
	}

	errData, _ := json.Marshal(payload)
	if err := s.store.UpdateRunCompleted(ctx, rs.runID, domain.RunStatusFailed, outcome.Progress, outcome.FailCode, errData); err != nil {
		log.Printf("ERROR: failed to finalize run: %v", err)
	}
}

// onNotification translates one scheduler transition into an agent record
// upsert, a timeline event and a run progress update.
func (s *Service) onNotification(ctx context.Context, rs *runState, n pipeline.Notification) {
	now := time.Now()

	// The first notification is the first agent dispatch; that is what
	// flips the run from QUEUED to RUNNING.
	if !rs.started {
		rs.started = true
		if err := s.store.UpdateRunStatus(ctx, rs.runID, domain.RunStatusRunning, 0); err != nil {
			log.Printf("ERROR: failed to update run status: %v", err)
		}
		if err := s.recordEvent(ctx, rs, domain.EventTypeRunStarted, "", "", nil); err != nil {
			log.Printf("ERROR: failed to record run_started event: %v", err)
		}
	}

	rec := rs.agents[n.Agent]
	if rec == nil {
		rec = &domain.AgentRecord{Name: n.Agent, Status: domain.AgentStatusIdle}
		rs.agents[n.Agent] = rec
	}
	prevStatus := rec.Status

	rec.Status = n.Status
	rec.Progress = n.Progress
	if n.Attempt > 0 {
		rec.Attempts = n.Attempt
	}
	if n.Status == domain.AgentStatusRunning && rec.StartedAt == nil {
		t := now
		rec.StartedAt = &t
	}
	if n.Status.IsTerminal() && rec.EndedAt == nil {
		t := now
		rec.EndedAt = &t
		if rec.StartedAt != nil {
			rec.ElapsedMs = t.Sub(*rec.StartedAt).Milliseconds()
		}
	}
	if n.Status == domain.AgentStatusDone {
		rec.Confidence = n.Confidence
	}
	if n.Err != nil {
		rec.Error = n.Err.Error()
	}

	if err := s.store.UpsertAgentRecord(ctx, rs.runID, rec); err != nil {
		log.Printf("ERROR: failed to upsert agent record: %v", err)
	}

	eventType, payload := notificationEvent(prevStatus, n)
	if err := s.recordEvent(ctx, rs, eventType, n.Agent, "", payload); err != nil {
		log.Printf("ERROR: failed to record %s event: %v", eventType, err)
	}

	if n.RunProgress > rs.lastProgress {
		rs.lastProgress = n.RunProgress
		if err := s.store.UpdateRunStatus(ctx, rs.runID, domain.RunStatusRunning, n.RunProgress); err != nil {
			log.Printf("ERROR: failed to update run progress: %v", err)
		}
	}
}

func notificationEvent(prev domain.AgentStatus, n pipeline.Notification) (domain.EventType, interface{}) {
	statusPayload := domain.AgentStatusPayload{
		Agent:    n.Agent,
		Status:   n.Status,
		Progress: n.Progress,
		Attempt:  n.Attempt,
	}

	switch n.Status {
	case domain.AgentStatusQueued:
		return domain.EventTypeAgentQueued, statusPayload
	case domain.AgentStatusRunning:
		if prev != domain.AgentStatusRunning {
			return domain.EventTypeAgentStarted, statusPayload
		}
		return domain.EventTypeAgentProgress, statusPayload
	case domain.AgentStatusDone:
		return domain.EventTypeAgentDone, statusPayload
	case domain.AgentStatusError:
		payload := domain.AgentErrorPayload{Agent: n.Agent, Attempts: n.Attempt}
		if n.Err != nil {
			payload.Code = n.Err.Code
			payload.Message = n.Err.Message
			payload.Retryable = n.Err.Retryable
		}
		return domain.EventTypeAgentError, payload
	case domain.AgentStatusSkipped:
		return domain.EventTypeAgentSkipped, statusPayload
	default:
		return domain.EventTypeAgentProgress, statusPayload
	}
}

// Cancel stops a running pipeline. Cancelling a terminal run is a no-op.
func (s *Service) Cancel(ctx context.Context, runID string) error {
	s.mu.Lock()
	rs := s.runs[runID]
	s.mu.Unlock()

	if rs != nil {
		rs.cancel()
		return nil
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return ErrRunNotFound
	}
	// Terminal already, nothing to stop.
	return nil
}
