package agents

import (
	"context"

	"github.com/edu-data/mas/internal/adapter/inference"
	"github.com/edu-data/mas/internal/adapter/media"
	"github.com/edu-data/mas/internal/pipeline"
)

// VisionResult summarizes the instructor's visual presence.
type VisionResult struct {
	Frames          []inference.FrameMetrics `json:"frames"`
	EyeContactRatio float64                  `json:"eye_contact_ratio"`
	AvgExpression   float64                  `json:"avg_expression"`
	AvgGesture      float64                  `json:"avg_gesture"`
}

// VisionAgent runs face/gesture inference over the sampled frames.
type VisionAgent struct {
	inf inference.Client
}

func NewVisionAgent(inf inference.Client) *VisionAgent {
	return &VisionAgent{inf: inf}
}

func (a *VisionAgent) Descriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:      NameVision,
		DependsOn: []string{NameExtract},
		Category:  "analysis",
		Weight:    2,
		Resource:  pipeline.ResourceVision,
	}
}

func (a *VisionAgent) Execute(ctx context.Context, pc *pipeline.Context, progress pipeline.ProgressFunc) (pipeline.Result, error) {
	extraction, ok, err := input[*media.Extraction](pc, NameVision, NameExtract)
	if err != nil {
		return pipeline.Result{}, err
	}
	if !ok {
		return pipeline.Result{}, pipeline.NewAgentError(NameVision, "missing_input", "no extraction available", nil)
	}

	progress(10)
	frames, err := a.inf.AnalyzeFrames(ctx, extraction.Frames)
	if err != nil {
		return pipeline.Result{}, wrapCallErr(NameVision, err)
	}
	progress(80)

	res := VisionResult{Frames: frames}
	var eye, expr, gesture float64
	for _, f := range frames {
		if f.EyeContact {
			eye++
		}
		expr += f.ExpressionScore
		gesture += f.GestureScore
	}
	if n := float64(len(frames)); n > 0 {
		res.EyeContactRatio = eye / n
		res.AvgExpression = expr / n
		res.AvgGesture = gesture / n
	}

	confidence := 0.9
	if len(frames) == 0 {
		confidence = 0.2
	}
	return pipeline.Result{Payload: &res, Confidence: confidence}, nil
}
