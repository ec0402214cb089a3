package agents

import (
	"context"

	"github.com/edu-data/mas/internal/adapter/inference"
	"github.com/edu-data/mas/internal/pipeline"
)

// FeedbackResult carries the generated narrative feedback.
type FeedbackResult struct {
	Feedback inference.Feedback `json:"feedback"`
}

// FeedbackAgent turns rubric scores into strengths, issues and
// recommendations.
type FeedbackAgent struct {
	inf inference.Client
}

func NewFeedbackAgent(inf inference.Client) *FeedbackAgent {
	return &FeedbackAgent{inf: inf}
}

func (a *FeedbackAgent) Descriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:      NameFeedback,
		DependsOn: []string{NamePedagogy},
		Category:  "scoring",
		Weight:    0.5,
		Resource:  pipeline.ResourceLLM,
	}
}

func (a *FeedbackAgent) Execute(ctx context.Context, pc *pipeline.Context, progress pipeline.ProgressFunc) (pipeline.Result, error) {
	pedagogy, ok, err := input[*PedagogyResult](pc, NameFeedback, NamePedagogy)
	if err != nil {
		return pipeline.Result{}, err
	}
	if !ok {
		return pipeline.Result{}, pipeline.NewAgentError(NameFeedback, "missing_input", "no pedagogy scores available", nil)
	}

	progress(30)
	fb, err := a.inf.GenerateFeedback(ctx, &pedagogy.Scores)
	if err != nil {
		return pipeline.Result{}, wrapCallErr(NameFeedback, err)
	}
	progress(90)

	return pipeline.Result{Payload: &FeedbackResult{Feedback: *fb}, Confidence: fb.Confidence}, nil
}
