package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/edu-data/mas/internal/domain"
)

// Notification is emitted on every agent state change. The receiver must not
// block; the scheduler publishes through it synchronously.
type Notification struct {
	Agent       string
	Status      domain.AgentStatus
	Progress    int
	RunProgress int
	Confidence  float64
	Attempt     int
	Err         *AgentError
}

// Options configures one scheduler run.
type Options struct {
	// Limits caps concurrent in-flight calls per external resource class.
	// Classes without an entry are unbounded.
	Limits map[ResourceClass]int64
	// Timeout is the wall-clock budget for the whole run. Zero means none.
	Timeout time.Duration
	// MaxAttempts bounds executions of one agent when it reports retryable
	// errors. Values below 1 mean a single attempt.
	MaxAttempts int
	// InitialBackoff seeds the exponential backoff between retries.
	InitialBackoff time.Duration
	// Notify receives agent state transitions. May be nil.
	Notify func(Notification)
}

// Outcome is the terminal result of a scheduler run.
type Outcome struct {
	Status      domain.RunStatus
	Progress    int
	FailCode    domain.FailReason
	FailMessage string
}

// Scheduler drives a single run over a validated registry. It reacts to
// completion signals and dispatches newly ready agents; it never executes
// agents itself and never blocks on subscribers.
type Scheduler struct {
	reg  *Registry
	pc   *Context
	opts Options

	sems    map[ResourceClass]*semaphore.Weighted
	records map[string]*execState
	msgCh   chan message

	terminal    int
	runProgress int
	failCode    domain.FailReason
	failMsg     string
}

type execState struct {
	status   domain.AgentStatus
	progress int
	attempts int
	launched bool
}

type msgKind int

const (
	msgAttemptStarted msgKind = iota
	msgProgress
	msgCompleted
)

// message is how agent goroutines hand state back to the scheduler loop;
// all record mutation happens on that single goroutine.
type message struct {
	kind     msgKind
	name     string
	pct      int
	attempt  int
	result   Result
	err      error
}

// NewScheduler prepares a scheduler for one run. The registry is assumed
// validated; the context must be fresh.
func NewScheduler(reg *Registry, pc *Context, opts Options) *Scheduler {
	sems := make(map[ResourceClass]*semaphore.Weighted, len(opts.Limits))
	for class, n := range opts.Limits {
		if n > 0 {
			sems[class] = semaphore.NewWeighted(n)
		}
	}
	records := make(map[string]*execState, reg.Len())
	for _, name := range reg.Names() {
		records[name] = &execState{status: domain.AgentStatusIdle}
	}
	return &Scheduler{
		reg:     reg,
		pc:      pc,
		opts:    opts,
		sems:    sems,
		records: records,
		msgCh:   make(chan message, reg.Len()*4),
	}
}

// Run executes the pipeline to completion, failure, cancellation or timeout.
func (s *Scheduler) Run(ctx context.Context) Outcome {
	runCtx := ctx
	var cancel context.CancelFunc
	if s.opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	s.launchReady(runCtx)

	for s.terminal < s.reg.Len() {
		// Checked before the select: once the run context is gone, teardown
		// must win over any completion message racing with it.
		if runCtx.Err() != nil {
			return s.abort(runCtx, ctx)
		}
		select {
		case m := <-s.msgCh:
			s.handleMessage(runCtx, m)
			s.launchReady(runCtx)

		case <-runCtx.Done():
			return s.abort(runCtx, ctx)
		}
	}

	if s.failCode != "" {
		return Outcome{Status: domain.RunStatusFailed, Progress: s.runProgress, FailCode: s.failCode, FailMessage: s.failMsg}
	}
	return Outcome{Status: domain.RunStatusCompleted, Progress: s.runProgress}
}

// launchReady dispatches every not-yet-started agent whose dependencies are
// all satisfied. Ready agents run concurrently; relative start order among
// them is unspecified.
func (s *Scheduler) launchReady(ctx context.Context) {
	for _, name := range s.reg.Names() {
		st := s.records[name]
		if st.launched || st.status.IsTerminal() {
			continue
		}
		agent, _ := s.reg.Get(name)
		if !s.depsSatisfied(agent.Descriptor()) {
			continue
		}
		st.launched = true
		s.setStatus(name, domain.AgentStatusQueued, nil, 0)
		go s.runAgent(ctx, agent)
	}
}

// depsSatisfied reports whether every dependency is done, or failed/skipped
// while being optional (in which case a fallback slot stands in).
func (s *Scheduler) depsSatisfied(d Descriptor) bool {
	for _, dep := range d.DependsOn {
		depAgent, _ := s.reg.Get(dep)
		switch s.records[dep].status {
		case domain.AgentStatusDone:
		case domain.AgentStatusError, domain.AgentStatusSkipped:
			if !depAgent.Descriptor().Optional {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// send hands a message to the scheduler loop. After an abort nobody drains
// the channel, so sends give up once the run context is gone; late results
// are discarded by design.
func (s *Scheduler) send(ctx context.Context, m message) {
	select {
	case s.msgCh <- m:
	case <-ctx.Done():
	}
}

// runAgent executes one agent in its own goroutine, gated by the resource
// class semaphore and retried on retryable errors with exponential backoff.
func (s *Scheduler) runAgent(ctx context.Context, agent Agent) {
	d := agent.Descriptor()

	if sem, ok := s.sems[d.Resource]; ok {
		if err := sem.Acquire(ctx, 1); err != nil {
			s.send(ctx, message{kind: msgCompleted, name: d.Name, err: err})
			return
		}
		defer sem.Release(1)
	}

	progress := func(pct int) {
		select {
		case s.msgCh <- message{kind: msgProgress, name: d.Name, pct: pct}:
		default:
			// Drop rather than stall the agent; the next update or the
			// terminal transition corrects the snapshot.
		}
	}

	maxAttempts := s.opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	bo := backoff.NewExponentialBackOff()
	if s.opts.InitialBackoff > 0 {
		bo.InitialInterval = s.opts.InitialBackoff
	}
	bo.MaxElapsedTime = 0

	var res Result
	var err error
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		s.send(ctx, message{kind: msgAttemptStarted, name: d.Name, attempt: attempt})
		res, err = agent.Execute(ctx, s.pc, progress)
		if err == nil {
			break
		}
		var ae *AgentError
		if !errors.As(err, &ae) || !ae.Retryable || attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(bo.NextBackOff()):
			continue
		}
		break
	}

	s.send(ctx, message{kind: msgCompleted, name: d.Name, result: res, err: err, attempt: attempts})
}

func (s *Scheduler) handleMessage(ctx context.Context, m message) {
	st := s.records[m.name]
	if st.status.IsTerminal() {
		return
	}

	switch m.kind {
	case msgAttemptStarted:
		st.attempts = m.attempt
		s.setStatus(m.name, domain.AgentStatusRunning, nil, 0)

	case msgProgress:
		pct := m.pct
		if pct < 0 {
			pct = 0
		} else if pct > 99 {
			pct = 99 // 100 is reserved for DONE
		}
		if pct > st.progress {
			st.progress = pct
			s.notify(m.name, domain.AgentStatusRunning, nil, 0)
		}

	case msgCompleted:
		st.attempts = m.attempt
		if m.err != nil {
			if ctx.Err() != nil && (errors.Is(m.err, context.Canceled) || errors.Is(m.err, context.DeadlineExceeded)) {
				// The run is being torn down; abort accounts for this
				// agent and carries the real reason.
				return
			}
			s.failAgent(m.name, asAgentError(m.name, m.err))
			return
		}
		if err := s.pc.Set(m.name, m.result.Payload, m.result.Confidence); err != nil {
			// A double write is an orchestration bug surfaced as agent failure.
			s.failAgent(m.name, NewAgentError(m.name, "slot_conflict", err.Error(), err))
			return
		}
		st.progress = 100
		s.setStatus(m.name, domain.AgentStatusDone, nil, m.result.Confidence)
	}
}

func asAgentError(name string, err error) *AgentError {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewAgentError(name, "cancelled", "execution cancelled", err)
	}
	return NewAgentError(name, "execution_failed", err.Error(), err)
}

// failAgent marks an agent ERROR and applies failure propagation: optional
// agents leave a fallback slot for dependents, required agents doom their
// transitive dependents and the run.
func (s *Scheduler) failAgent(name string, ae *AgentError) {
	agent, _ := s.reg.Get(name)
	s.setStatus(name, domain.AgentStatusError, ae, 0)

	if agent.Descriptor().Optional {
		if _, ok := s.pc.Get(name); !ok {
			_ = s.pc.SetFallback(name)
		}
		return
	}

	if s.failCode == "" {
		s.failCode = domain.FailReasonAgentError
		s.failMsg = ae.Error()
	}
	s.skipDependents(name)
}

// skipDependents marks every transitive dependent of a failed or skipped
// required agent SKIPPED. Propagation stops at optional links: dependents of
// an optional agent proceed on its fallback slot instead.
func (s *Scheduler) skipDependents(name string) {
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range s.reg.Dependents(cur) {
			st := s.records[dep]
			if st.status.IsTerminal() {
				continue
			}
			s.setStatus(dep, domain.AgentStatusSkipped, nil, 0)
			depAgent, _ := s.reg.Get(dep)
			if depAgent.Descriptor().Optional {
				if _, ok := s.pc.Get(dep); !ok {
					_ = s.pc.SetFallback(dep)
				}
				// Optional: its own dependents may still proceed.
				continue
			}
			queue = append(queue, dep)
		}
	}
}

// abort handles cancellation and timeout: every non-terminal record becomes
// SKIPPED, late agent results are discarded, and the run fails with a
// distinguishing reason code. Already-written slots stay in the context for
// diagnostics.
func (s *Scheduler) abort(runCtx, parent context.Context) Outcome {
	reason := domain.FailReasonCancelled
	msg := "run cancelled by submitter"
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		reason = domain.FailReasonTimeout
		msg = fmt.Sprintf("run exceeded %s budget", s.opts.Timeout)
	}

	for _, name := range s.reg.Names() {
		if !s.records[name].status.IsTerminal() {
			s.setStatus(name, domain.AgentStatusSkipped, nil, 0)
		}
	}

	if s.failCode == "" {
		s.failCode = reason
		s.failMsg = msg
	}
	return Outcome{Status: domain.RunStatusFailed, Progress: s.runProgress, FailCode: s.failCode, FailMessage: s.failMsg}
}

// setStatus applies a monotonic status transition and notifies.
func (s *Scheduler) setStatus(name string, status domain.AgentStatus, ae *AgentError, confidence float64) {
	st := s.records[name]
	if st.status == status || st.status.IsTerminal() || status.Rank() < st.status.Rank() {
		return
	}
	st.status = status
	if status.IsTerminal() {
		s.terminal++
	}
	s.notify(name, status, ae, confidence)
}

func (s *Scheduler) notify(name string, status domain.AgentStatus, ae *AgentError, confidence float64) {
	s.recomputeProgress()
	if s.opts.Notify == nil {
		return
	}
	st := s.records[name]
	s.opts.Notify(Notification{
		Agent:       name,
		Status:      status,
		Progress:    st.progress,
		RunProgress: s.runProgress,
		Confidence:  confidence,
		Attempt:     st.attempts,
		Err:         ae,
	})
}

// recomputeProgress aggregates weighted per-agent progress. Completed agents
// are pinned at 100 regardless of reported history; the run value never
// decreases.
func (s *Scheduler) recomputeProgress() {
	var total, acc float64
	allDone := true
	for _, name := range s.reg.Names() {
		a, _ := s.reg.Get(name)
		w := a.Descriptor().Weight
		total += w
		st := s.records[name]
		if st.status == domain.AgentStatusDone {
			acc += w * 100
		} else {
			allDone = false
			acc += w * float64(st.progress)
		}
	}
	if total == 0 {
		return
	}
	pct := int(acc / total)
	if allDone {
		// Float weight sums (e.g. three agents of weight 0.1) can truncate
		// the quotient to 99; a fully successful run reports exactly 100.
		pct = 100
	}
	if pct > s.runProgress {
		s.runProgress = pct
	}
}
