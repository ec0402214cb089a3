// Package pipeline implements the dependency-graph scheduler that drives
// one analysis run over a set of registered agents.
package pipeline

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/edu-data/mas/internal/domain"
)

// Slot holds one agent's output within a run.
type Slot struct {
	Payload    any     `json:"payload"`
	Confidence float64 `json:"confidence"`
	Fallback   bool    `json:"fallback,omitempty"`
}

// Context is the per-run shared state passed to every agent. Each agent
// owns exactly one slot keyed by its name; a slot is write-once for the
// lifetime of the run.
type Context struct {
	VideoRef string
	Config   domain.RunConfig

	mu    sync.RWMutex
	slots map[string]Slot
}

// NewContext seeds a fresh shared context for one run.
func NewContext(videoRef string, cfg domain.RunConfig) *Context {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 1.0
	}
	return &Context{
		VideoRef: videoRef,
		Config:   cfg,
		slots:    make(map[string]Slot),
	}
}

// Set writes an agent's result slot. A second write to the same slot is an
// error; re-runs must create a new Context.
func (c *Context) Set(agent string, payload any, confidence float64) error {
	if confidence < 0 || confidence > 1 {
		return fmt.Errorf("confidence %v for agent %s out of range [0,1]", confidence, agent)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.slots[agent]; ok {
		return fmt.Errorf("slot %s already written", agent)
	}
	c.slots[agent] = Slot{Payload: payload, Confidence: confidence}
	return nil
}

// SetFallback writes an empty, zero-confidence slot for an optional agent
// that failed, so dependents can proceed.
func (c *Context) SetFallback(agent string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.slots[agent]; ok {
		return fmt.Errorf("slot %s already written", agent)
	}
	c.slots[agent] = Slot{Fallback: true}
	return nil
}

// Get returns an agent's slot.
func (c *Context) Get(agent string) (Slot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.slots[agent]
	return s, ok
}

// Snapshot returns a copy of all written slots.
func (c *Context) Snapshot() map[string]Slot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Slot, len(c.slots))
	for k, v := range c.slots {
		out[k] = v
	}
	return out
}

// MarshalResult serializes the final context for persistence.
func (c *Context) MarshalResult() (json.RawMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(map[string]any{
		"video_ref": c.VideoRef,
		"config":    c.Config,
		"slots":     c.slots,
	})
}
