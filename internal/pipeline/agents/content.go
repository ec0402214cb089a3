package agents

import (
	"context"

	"github.com/edu-data/mas/internal/adapter/inference"
	"github.com/edu-data/mas/internal/adapter/media"
	"github.com/edu-data/mas/internal/pipeline"
)

// ContentResult summarizes the teaching material visible on screen.
type ContentResult struct {
	Slides         []inference.SlideMetrics `json:"slides"`
	SlideRatio     float64                  `json:"slide_ratio"`
	AvgTextDensity float64                  `json:"avg_text_density"`
	AvgComplexity  float64                  `json:"avg_complexity"`
}

// ContentAgent runs slide/content inference over the sampled frames. It
// shares the vision resource class: both hit the same GPU-bound gateway.
type ContentAgent struct {
	inf inference.Client
}

func NewContentAgent(inf inference.Client) *ContentAgent {
	return &ContentAgent{inf: inf}
}

func (a *ContentAgent) Descriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:      NameContent,
		DependsOn: []string{NameExtract},
		Category:  "analysis",
		Weight:    2,
		Resource:  pipeline.ResourceVision,
	}
}

func (a *ContentAgent) Execute(ctx context.Context, pc *pipeline.Context, progress pipeline.ProgressFunc) (pipeline.Result, error) {
	extraction, ok, err := input[*media.Extraction](pc, NameContent, NameExtract)
	if err != nil {
		return pipeline.Result{}, err
	}
	if !ok {
		return pipeline.Result{}, pipeline.NewAgentError(NameContent, "missing_input", "no extraction available", nil)
	}

	progress(10)
	slides, err := a.inf.AnalyzeSlides(ctx, extraction.Frames)
	if err != nil {
		return pipeline.Result{}, wrapCallErr(NameContent, err)
	}
	progress(80)

	res := ContentResult{Slides: slides}
	var slideCount, density, complexity float64
	for _, s := range slides {
		if s.SlideDetected {
			slideCount++
		}
		density += float64(s.TextDensity)
		complexity += s.ComplexityScore
	}
	if n := float64(len(slides)); n > 0 {
		res.SlideRatio = slideCount / n
		res.AvgTextDensity = density / n
		res.AvgComplexity = complexity / n
	}

	confidence := 0.85
	if len(slides) == 0 {
		confidence = 0.2
	}
	return pipeline.Result{Payload: &res, Confidence: confidence}, nil
}
