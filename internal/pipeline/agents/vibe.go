package agents

import (
	"context"

	"github.com/edu-data/mas/internal/adapter/inference"
	"github.com/edu-data/mas/internal/adapter/media"
	"github.com/edu-data/mas/internal/pipeline"
)

// VibeResult captures vocal delivery over time.
type VibeResult struct {
	Windows      []inference.ProsodyWindow `json:"windows"`
	AvgEnergy    float64                   `json:"avg_energy"`
	EnergySeries []float64                 `json:"energy_series"`
}

// VibeAgent analyzes prosody on the audio track. It is optional: when it
// fails, pedagogy proceeds on a zero-confidence fallback slot instead of
// being skipped.
type VibeAgent struct {
	inf inference.Client
}

func NewVibeAgent(inf inference.Client) *VibeAgent {
	return &VibeAgent{inf: inf}
}

func (a *VibeAgent) Descriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:      NameVibe,
		DependsOn: []string{NameExtract},
		Category:  "analysis",
		Optional:  true,
		Weight:    1,
		Resource:  pipeline.ResourceSTT,
	}
}

func (a *VibeAgent) Execute(ctx context.Context, pc *pipeline.Context, progress pipeline.ProgressFunc) (pipeline.Result, error) {
	extraction, ok, err := input[*media.Extraction](pc, NameVibe, NameExtract)
	if err != nil {
		return pipeline.Result{}, err
	}
	if !ok {
		return pipeline.Result{}, pipeline.NewAgentError(NameVibe, "missing_input", "no extraction available", nil)
	}
	if extraction.AudioRef == "" {
		return pipeline.Result{}, pipeline.NewAgentError(NameVibe, "missing_input", "extraction produced no audio track", nil)
	}

	progress(10)
	windows, err := a.inf.AnalyzeProsody(ctx, extraction.AudioRef)
	if err != nil {
		return pipeline.Result{}, wrapCallErr(NameVibe, err)
	}
	progress(85)

	res := VibeResult{Windows: windows}
	for _, w := range windows {
		res.AvgEnergy += w.Energy
		res.EnergySeries = append(res.EnergySeries, w.Energy)
	}
	if n := float64(len(windows)); n > 0 {
		res.AvgEnergy /= n
	}

	confidence := 0.8
	if len(windows) == 0 {
		confidence = 0.2
	}
	return pipeline.Result{Payload: &res, Confidence: confidence}, nil
}
