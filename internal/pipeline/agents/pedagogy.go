package agents

import (
	"context"

	"github.com/edu-data/mas/internal/adapter/inference"
	"github.com/edu-data/mas/internal/pipeline"
)

// PedagogyResult carries rubric dimension scores plus the weights used.
type PedagogyResult struct {
	Scores  inference.RubricScores `json:"scores"`
	Weights map[string]float64     `json:"weights"`
}

// PedagogyAgent scores the lecture against the rubric, fanning in the four
// analysis slots. Transcript confidence discounts interaction-related
// dimension weights; a vibe fallback slot degrades prosody input to none.
type PedagogyAgent struct {
	inf inference.Client
}

func NewPedagogyAgent(inf inference.Client) *PedagogyAgent {
	return &PedagogyAgent{inf: inf}
}

func (a *PedagogyAgent) Descriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:      NamePedagogy,
		DependsOn: []string{NameVision, NameContent, NameSTT, NameVibe},
		Category:  "scoring",
		Weight:    1.5,
		Resource:  pipeline.ResourceLLM,
	}
}

func (a *PedagogyAgent) Execute(ctx context.Context, pc *pipeline.Context, progress pipeline.ProgressFunc) (pipeline.Result, error) {
	vision, ok, err := input[*VisionResult](pc, NamePedagogy, NameVision)
	if err != nil {
		return pipeline.Result{}, err
	}
	if !ok {
		return pipeline.Result{}, pipeline.NewAgentError(NamePedagogy, "missing_input", "no vision analysis available", nil)
	}
	content, ok, err := input[*ContentResult](pc, NamePedagogy, NameContent)
	if err != nil {
		return pipeline.Result{}, err
	}
	if !ok {
		return pipeline.Result{}, pipeline.NewAgentError(NamePedagogy, "missing_input", "no content analysis available", nil)
	}
	stt, ok, err := input[*STTResult](pc, NamePedagogy, NameSTT)
	if err != nil {
		return pipeline.Result{}, err
	}
	if !ok {
		return pipeline.Result{}, pipeline.NewAgentError(NamePedagogy, "missing_input", "no transcript available", nil)
	}
	vibe, vibeOK, err := input[*VibeResult](pc, NamePedagogy, NameVibe)
	if err != nil {
		return pipeline.Result{}, err
	}

	progress(20)

	// Per-segment recognition confidence discounts how much the transcript
	// is allowed to move interaction scores.
	weights := map[string]float64{
		"delivery":            1,
		"content_clarity":     1,
		"structure":           1,
		"student_interaction": stt.AvgConfidence,
	}

	req := &inference.RubricRequest{
		RubricVersion: pc.Config.RubricVersion,
		Vision:        vision.Frames,
		Slides:        content.Slides,
		Transcript:    &stt.Transcript,
		Weights:       weights,
	}
	if vibeOK {
		req.Prosody = vibe.Windows
	}

	scores, err := a.inf.ScoreRubric(ctx, req)
	if err != nil {
		return pipeline.Result{}, wrapCallErr(NamePedagogy, err)
	}
	progress(90)

	confidence := scores.Confidence
	if !vibeOK && confidence > 0.6 {
		confidence = 0.6 // degraded: no prosody input
	}

	return pipeline.Result{
		Payload:    &PedagogyResult{Scores: *scores, Weights: weights},
		Confidence: confidence,
	}, nil
}
