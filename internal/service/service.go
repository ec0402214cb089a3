// Package service orchestrates analysis runs: submission, pipeline
// execution, cancellation and queries.
package service

import (
	"sync"

	"github.com/edu-data/mas/internal/bus"
	"github.com/edu-data/mas/internal/config"
	"github.com/edu-data/mas/internal/pipeline"
	"github.com/edu-data/mas/internal/policy"
	"github.com/edu-data/mas/internal/store"
)

type Service struct {
	store        store.Store
	bus          *bus.Bus
	registry     *pipeline.Registry
	config       *config.Config
	policyEngine *policy.Engine

	mu   sync.Mutex
	runs map[string]*runState
}

func New(st store.Store, eventBus *bus.Bus, registry *pipeline.Registry, cfg *config.Config, policyEngine *policy.Engine) *Service {
	return &Service{
		store:        st,
		bus:          eventBus,
		registry:     registry,
		config:       cfg,
		policyEngine: policyEngine,
		runs:         make(map[string]*runState),
	}
}
