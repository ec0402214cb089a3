// Package agents contains the eight concrete analysis stages. Each agent
// reads its upstream slots from the shared context, calls one external
// capability through an injected client, and writes one typed result.
package agents

import (
	"errors"
	"fmt"

	"github.com/edu-data/mas/internal/adapter/inference"
	"github.com/edu-data/mas/internal/adapter/media"
	"github.com/edu-data/mas/internal/pipeline"
)

// Stage names. The execution shape (extract fanning out to the four
// analysis stages, then pedagogy, feedback and master fanning in) falls out
// of the declared dependency sets, not a phase list.
const (
	NameExtract  = "extract"
	NameVision   = "vision"
	NameContent  = "content"
	NameSTT      = "stt"
	NameVibe     = "vibe"
	NamePedagogy = "pedagogy"
	NameFeedback = "feedback"
	NameMaster   = "master"
)

// Defaults builds the standard agent set wired to the given clients.
func Defaults(extractor media.Extractor, inf inference.Client) []pipeline.Agent {
	return []pipeline.Agent{
		NewExtractAgent(extractor),
		NewVisionAgent(inf),
		NewContentAgent(inf),
		NewSTTAgent(inf),
		NewVibeAgent(inf),
		NewPedagogyAgent(inf),
		NewFeedbackAgent(inf),
		NewMasterAgent(),
	}
}

// DefaultRegistry validates and returns the standard registry.
func DefaultRegistry(extractor media.Extractor, inf inference.Client) (*pipeline.Registry, error) {
	return pipeline.NewRegistry(Defaults(extractor, inf)...)
}

// input fetches a typed upstream slot, failing with a permanent agent error
// when the slot is absent or holds an unexpected payload. The second return
// is false when the slot is a fallback left by a failed optional agent.
func input[T any](pc *pipeline.Context, agent, dep string) (T, bool, error) {
	var zero T
	slot, ok := pc.Get(dep)
	if !ok {
		return zero, false, pipeline.NewAgentError(agent, "missing_input", fmt.Sprintf("dependency %s produced no result", dep), nil)
	}
	if slot.Fallback {
		return zero, false, nil
	}
	v, ok := slot.Payload.(T)
	if !ok {
		return zero, false, pipeline.NewAgentError(agent, "malformed_input", fmt.Sprintf("dependency %s produced unexpected payload %T", dep, slot.Payload), nil)
	}
	return v, true, nil
}

// wrapCallErr classifies an external call failure: capacity rejections are
// retryable, everything else is permanent.
func wrapCallErr(agent string, err error) error {
	var mediaCap *media.CapacityError
	var infCap *inference.CapacityError
	if errors.As(err, &mediaCap) || errors.As(err, &infCap) {
		return pipeline.NewRetryableError(agent, "over_capacity", "external service over capacity", err)
	}
	return pipeline.NewAgentError(agent, "call_failed", "external call failed", err)
}
