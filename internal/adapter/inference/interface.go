// Package inference abstracts the external model services the analysis
// agents call: vision inference, speech-to-text, prosody analysis, and the
// LLM-backed rubric scorer and feedback generator.
package inference

import (
	"context"

	"github.com/edu-data/mas/internal/adapter/media"
)

// FrameMetrics is the vision model's read of one sampled frame.
type FrameMetrics struct {
	Timestamp       float64 `json:"timestamp"`
	FaceDetected    bool    `json:"face_detected"`
	EyeContact      bool    `json:"eye_contact"`
	ExpressionScore float64 `json:"expression_score"` // 0-100
	GestureScore    float64 `json:"gesture_score"`    // 0-100
	MotionScore     float64 `json:"motion_score"`     // 0-100
}

// SlideMetrics is the content model's read of one sampled frame.
type SlideMetrics struct {
	Timestamp       float64 `json:"timestamp"`
	SlideDetected   bool    `json:"slide_detected"`
	TextDensity     int     `json:"text_density"`
	Brightness      float64 `json:"brightness"`
	ComplexityScore float64 `json:"complexity_score"` // 0-100
}

// TranscriptSegment is one recognized speech span.
type TranscriptSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Transcript is the full STT output for one audio track.
type Transcript struct {
	Language   string              `json:"language"`
	Segments   []TranscriptSegment `json:"segments"`
	Confidence float64             `json:"confidence"`
}

// ProsodyWindow is one window of vocal delivery metrics.
type ProsodyWindow struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Energy      float64 `json:"energy"`       // 0-100
	PitchVar    float64 `json:"pitch_var"`    // 0-100
	SpeechRate  float64 `json:"speech_rate"`  // words/min
	PausesRatio float64 `json:"pauses_ratio"` // 0-1
}

// RubricRequest carries the upstream analysis slices the scorer consumes.
type RubricRequest struct {
	RubricVersion string             `json:"rubric_version,omitempty"`
	Vision        []FrameMetrics     `json:"vision"`
	Slides        []SlideMetrics     `json:"slides"`
	Transcript    *Transcript        `json:"transcript,omitempty"`
	Prosody       []ProsodyWindow    `json:"prosody,omitempty"`
	Weights       map[string]float64 `json:"weights,omitempty"`
}

// RubricScores is the scorer's per-dimension output.
type RubricScores struct {
	Dimensions map[string]float64 `json:"dimensions"` // 0-100 each
	Rationale  map[string]string  `json:"rationale,omitempty"`
	Confidence float64            `json:"confidence"`
}

// Feedback is the generated narrative feedback.
type Feedback struct {
	Strengths       []string `json:"strengths"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
	Confidence      float64  `json:"confidence"`
}

// Client is the capability surface the agents depend on. Each agent calls
// exactly one method.
type Client interface {
	AnalyzeFrames(ctx context.Context, frames []media.FrameRef) ([]FrameMetrics, error)
	AnalyzeSlides(ctx context.Context, frames []media.FrameRef) ([]SlideMetrics, error)
	Transcribe(ctx context.Context, audioRef, language string) (*Transcript, error)
	AnalyzeProsody(ctx context.Context, audioRef string) ([]ProsodyWindow, error)
	ScoreRubric(ctx context.Context, req *RubricRequest) (*RubricScores, error)
	GenerateFeedback(ctx context.Context, scores *RubricScores) (*Feedback, error)
}
