package agents

import (
	"context"

	"github.com/edu-data/mas/internal/analysis"
	"github.com/edu-data/mas/internal/pipeline"
)

// MasterReport is the final synthesized analysis handed back to the client.
type MasterReport struct {
	OverallScore       float64            `json:"overall_score"`
	Dimensions         map[string]float64 `json:"dimensions"`
	EngagementTimeline []analysis.Bucket  `json:"engagement_timeline"`
	DeathValleys       []analysis.Span    `json:"death_valleys"`
	Incongruences      int                `json:"incongruences"`
	Strengths          []string           `json:"strengths"`
	Issues             []string           `json:"issues"`
	Recommendations    []string           `json:"recommendations"`
	ProsodyAvailable   bool               `json:"prosody_available"`
}

// MasterAgent synthesizes the final report from every upstream slot. It is
// the terminal stage and runs in-process over the shared context.
type MasterAgent struct{}

func NewMasterAgent() *MasterAgent {
	return &MasterAgent{}
}

func (a *MasterAgent) Descriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:      NameMaster,
		DependsOn: []string{NameVision, NameContent, NameVibe, NamePedagogy, NameFeedback},
		Category:  "synthesis",
		Weight:    1,
	}
}

func (a *MasterAgent) Execute(ctx context.Context, pc *pipeline.Context, progress pipeline.ProgressFunc) (pipeline.Result, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.Result{}, err
	}

	vision, ok, err := input[*VisionResult](pc, NameMaster, NameVision)
	if err != nil {
		return pipeline.Result{}, err
	}
	if !ok {
		return pipeline.Result{}, pipeline.NewAgentError(NameMaster, "missing_input", "no vision analysis available", nil)
	}
	if _, ok, err = input[*ContentResult](pc, NameMaster, NameContent); err != nil {
		return pipeline.Result{}, err
	} else if !ok {
		return pipeline.Result{}, pipeline.NewAgentError(NameMaster, "missing_input", "no content analysis available", nil)
	}
	pedagogy, ok, err := input[*PedagogyResult](pc, NameMaster, NamePedagogy)
	if err != nil {
		return pipeline.Result{}, err
	}
	if !ok {
		return pipeline.Result{}, pipeline.NewAgentError(NameMaster, "missing_input", "no pedagogy scores available", nil)
	}
	feedback, ok, err := input[*FeedbackResult](pc, NameMaster, NameFeedback)
	if err != nil {
		return pipeline.Result{}, err
	}
	if !ok {
		return pipeline.Result{}, pipeline.NewAgentError(NameMaster, "missing_input", "no feedback available", nil)
	}
	vibe, vibeOK, err := input[*VibeResult](pc, NameMaster, NameVibe)
	if err != nil {
		return pipeline.Result{}, err
	}

	progress(30)

	// Engagement per frame: expression and gesture blended, eye contact as
	// a bonus. Mirrors how segment engagement was derived upstream of the
	// rubric.
	points := make([]analysis.EngagementPoint, 0, len(vision.Frames))
	for _, f := range vision.Frames {
		level := 0.5*f.ExpressionScore + 0.3*f.GestureScore + 0.2*f.MotionScore
		if f.EyeContact {
			level += 10
		}
		points = append(points, analysis.EngagementPoint{Timestamp: f.Timestamp, Engagement: level})
	}
	timeline := analysis.Timeline(points, 30)
	valleys := analysis.DeathValleys(timeline, 40, 60)

	progress(60)

	incongruences := 0
	if vibeOK {
		visual := make([]float64, len(timeline))
		for i, b := range timeline {
			visual[i] = b.Level
		}
		incongruences = analysis.Incongruences(vibe.EnergySeries, visual, 35)
	}

	overall := analysis.OverallScore(pedagogy.Scores.Dimensions, pedagogy.Weights)
	progress(90)

	report := &MasterReport{
		OverallScore:       overall,
		Dimensions:         pedagogy.Scores.Dimensions,
		EngagementTimeline: timeline,
		DeathValleys:       valleys,
		Incongruences:      incongruences,
		Strengths:          feedback.Feedback.Strengths,
		Issues:             feedback.Feedback.Issues,
		Recommendations:    feedback.Feedback.Recommendations,
		ProsodyAvailable:   vibeOK,
	}

	confidence := pedagogy.Scores.Confidence
	if !vibeOK && confidence > 0.7 {
		confidence = 0.7
	}
	return pipeline.Result{Payload: report, Confidence: confidence}, nil
}
