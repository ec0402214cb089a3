package inference

import (
	"context"
	"math"
	"strings"

	"github.com/edu-data/mas/internal/adapter/media"
)

// MockClient is a deterministic Client for tests and MAS_MODE=MOCK. Outputs
// are synthesized from timestamps so downstream scoring stays stable across
// runs of the same input.
type MockClient struct {
	// FailTranscribe, when set, makes Transcribe return that error.
	FailTranscribe error
	// FailProsody, when set, makes AnalyzeProsody return that error.
	FailProsody error
}

var _ Client = (*MockClient)(nil)

// NewMockClient creates a mock inference client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// AnalyzeFrames fabricates plausible presence metrics per frame.
func (m *MockClient) AnalyzeFrames(ctx context.Context, frames []media.FrameRef) ([]FrameMetrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]FrameMetrics, 0, len(frames))
	for _, f := range frames {
		phase := math.Sin(f.Timestamp / 60)
		out = append(out, FrameMetrics{
			Timestamp:       f.Timestamp,
			FaceDetected:    true,
			EyeContact:      phase > -0.5,
			ExpressionScore: 55 + 25*phase,
			GestureScore:    40 + 30*math.Abs(phase),
			MotionScore:     30 + 20*math.Abs(phase),
		})
	}
	return out, nil
}

// AnalyzeSlides fabricates slide metrics per frame.
func (m *MockClient) AnalyzeSlides(ctx context.Context, frames []media.FrameRef) ([]SlideMetrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]SlideMetrics, 0, len(frames))
	for _, f := range frames {
		slide := math.Mod(f.Timestamp, 45) < 35 // slides up ~78% of the time
		out = append(out, SlideMetrics{
			Timestamp:       f.Timestamp,
			SlideDetected:   slide,
			TextDensity:     80 + int(math.Mod(f.Timestamp, 90)),
			Brightness:      140,
			ComplexityScore: 35 + math.Mod(f.Timestamp, 30),
		})
	}
	return out, nil
}

// Transcribe fabricates a transcript with one segment per 20 seconds.
func (m *MockClient) Transcribe(ctx context.Context, audioRef, language string) (*Transcript, error) {
	if m.FailTranscribe != nil {
		return nil, m.FailTranscribe
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if language == "" {
		language = "ko"
	}
	var segments []TranscriptSegment
	for start := 0.0; start < 600; start += 20 {
		segments = append(segments, TranscriptSegment{
			Start:      start,
			End:        start + 18,
			Text:       "[mock transcript segment]",
			Confidence: 0.85,
		})
	}
	return &Transcript{Language: language, Segments: segments, Confidence: 0.85}, nil
}

// AnalyzeProsody fabricates vocal energy windows.
func (m *MockClient) AnalyzeProsody(ctx context.Context, audioRef string) ([]ProsodyWindow, error) {
	if m.FailProsody != nil {
		return nil, m.FailProsody
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []ProsodyWindow
	for start := 0.0; start < 600; start += 30 {
		phase := math.Sin(start / 120)
		out = append(out, ProsodyWindow{
			Start:       start,
			End:         start + 30,
			Energy:      50 + 30*phase,
			PitchVar:    45 + 20*math.Abs(phase),
			SpeechRate:  150 + 40*phase,
			PausesRatio: 0.12,
		})
	}
	return out, nil
}

// ScoreRubric derives dimension scores from the supplied analysis slices.
func (m *MockClient) ScoreRubric(ctx context.Context, req *RubricRequest) (*RubricScores, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var eyeContact, expression float64
	for _, f := range req.Vision {
		if f.EyeContact {
			eyeContact++
		}
		expression += f.ExpressionScore
	}
	if n := float64(len(req.Vision)); n > 0 {
		eyeContact = 100 * eyeContact / n
		expression /= n
	}

	dims := map[string]float64{
		"delivery":            math.Round(expression),
		"student_interaction": math.Round(eyeContact),
		"content_clarity":     72,
		"structure":           68,
	}
	conf := 0.9
	if req.Transcript == nil {
		// Degraded scoring without a transcript.
		conf = 0.5
	}
	return &RubricScores{
		Dimensions: dims,
		Rationale:  map[string]string{"delivery": "mock rationale"},
		Confidence: conf,
	}, nil
}

// GenerateFeedback fabricates narrative feedback from the score profile.
func (m *MockClient) GenerateFeedback(ctx context.Context, scores *RubricScores) (*Feedback, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fb := &Feedback{Confidence: 0.8}
	for dim, score := range scores.Dimensions {
		label := strings.ReplaceAll(dim, "_", " ")
		if score >= 70 {
			fb.Strengths = append(fb.Strengths, "strong "+label)
		} else {
			fb.Issues = append(fb.Issues, "weak "+label)
			fb.Recommendations = append(fb.Recommendations, "practice "+label)
		}
	}
	return fb, nil
}
