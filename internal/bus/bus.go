// Package bus provides per-run event fan-out. Publishing never blocks the
// scheduler; slow subscribers are dropped, never the run.
package bus

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/edu-data/mas/internal/domain"
)

// Subscriber receives a run's timeline events in emission order. C is closed
// when the run finishes or the subscriber falls too far behind.
type Subscriber struct {
	ID string
	C  chan domain.TimelineEvent

	closed bool
}

// Bus fans out timeline events per run and keeps a trailing window so late
// subscribers can catch up from a consistent snapshot.
type Bus struct {
	mu     sync.RWMutex
	runs   map[string]*topic
	window int
}

type topic struct {
	subs     map[string]*Subscriber
	trailing []domain.TimelineEvent
	closed   bool
}

// New creates a bus keeping the last window events per run.
func New(window int) *Bus {
	if window <= 0 {
		window = 200
	}
	return &Bus{
		runs:   make(map[string]*topic),
		window: window,
	}
}

// Publish appends an event to the run's trailing window and fans it out.
// Subscribers whose buffer is full are dropped.
func (b *Bus) Publish(runID string, event domain.TimelineEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.runs[runID]
	if t == nil {
		t = &topic{subs: make(map[string]*Subscriber)}
		b.runs[runID] = t
	}
	if t.closed {
		return
	}

	t.trailing = append(t.trailing, event)
	if len(t.trailing) > b.window {
		t.trailing = t.trailing[len(t.trailing)-b.window:]
	}

	for id, sub := range t.subs {
		select {
		case sub.C <- event:
		default:
			log.Printf("WARN: subscriber %s for run %s fell behind, dropping", id, runID)
			delete(t.subs, id)
			close(sub.C)
			sub.closed = true
		}
	}
}

// Subscribe registers a subscriber for a run and returns the trailing
// timeline window for catch-up. Subscribing to a finished run returns a
// closed channel plus the window, so late clients still see final state.
func (b *Bus) Subscribe(runID string) (*Subscriber, []domain.TimelineEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.runs[runID]
	if t == nil {
		t = &topic{subs: make(map[string]*Subscriber)}
		b.runs[runID] = t
	}

	sub := &Subscriber{
		ID: uuid.New().String(),
		C:  make(chan domain.TimelineEvent, 64),
	}
	trailing := make([]domain.TimelineEvent, len(t.trailing))
	copy(trailing, t.trailing)

	if t.closed {
		close(sub.C)
		sub.closed = true
		return sub, trailing
	}

	t.subs[sub.ID] = sub
	return sub, trailing
}

// Window returns a copy of the run's trailing timeline window without
// subscribing. Late clients are seeded from this instead of a full replay.
func (b *Bus) Window(runID string) []domain.TimelineEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t := b.runs[runID]
	if t == nil {
		return nil
	}
	out := make([]domain.TimelineEvent, len(t.trailing))
	copy(out, t.trailing)
	return out
}

// Unsubscribe detaches a subscriber. Safe to call after the run closed.
func (b *Bus) Unsubscribe(runID string, sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.runs[runID]
	if t == nil {
		return
	}
	if s, ok := t.subs[sub.ID]; ok {
		delete(t.subs, sub.ID)
		if !s.closed {
			close(s.C)
			s.closed = true
		}
	}
}

// CloseRun marks a run finished: remaining subscribers' channels are closed
// after any buffered events drain, and future publishes are ignored. The
// trailing window is kept for late subscribers.
func (b *Bus) CloseRun(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.runs[runID]
	if t == nil {
		t = &topic{subs: make(map[string]*Subscriber)}
		b.runs[runID] = t
	}
	if t.closed {
		return
	}
	t.closed = true
	for id, sub := range t.subs {
		delete(t.subs, id)
		close(sub.C)
		sub.closed = true
	}
}

// Forget drops a run's topic entirely (retention is the caller's policy).
func (b *Bus) Forget(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.runs[runID]; ok {
		for id, sub := range t.subs {
			delete(t.subs, id)
			close(sub.C)
			sub.closed = true
		}
		delete(b.runs, runID)
	}
}

// SubscriberCount reports active subscribers for a run.
func (b *Bus) SubscriberCount(runID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if t, ok := b.runs[runID]; ok {
		return len(t.subs)
	}
	return 0
}
