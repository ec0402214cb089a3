package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/edu-data/mas/internal/adapter/media"
)

// HTTPClient talks to the model gateway over JSON/HTTP.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a model gateway client.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// AnalyzeFrames runs vision inference over sampled frames.
func (c *HTTPClient) AnalyzeFrames(ctx context.Context, frames []media.FrameRef) ([]FrameMetrics, error) {
	var out []FrameMetrics
	err := c.post(ctx, "/v1/vision/frames", map[string]any{"frames": frames}, &out)
	return out, err
}

// AnalyzeSlides runs slide/content inference over sampled frames.
func (c *HTTPClient) AnalyzeSlides(ctx context.Context, frames []media.FrameRef) ([]SlideMetrics, error) {
	var out []SlideMetrics
	err := c.post(ctx, "/v1/vision/slides", map[string]any{"frames": frames}, &out)
	return out, err
}

// Transcribe runs speech-to-text on the audio track.
func (c *HTTPClient) Transcribe(ctx context.Context, audioRef, language string) (*Transcript, error) {
	var out Transcript
	err := c.post(ctx, "/v1/stt/transcribe", map[string]any{"audio_ref": audioRef, "language": language}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeProsody extracts vocal delivery metrics from the audio track.
func (c *HTTPClient) AnalyzeProsody(ctx context.Context, audioRef string) ([]ProsodyWindow, error) {
	var out []ProsodyWindow
	err := c.post(ctx, "/v1/audio/prosody", map[string]any{"audio_ref": audioRef}, &out)
	return out, err
}

// ScoreRubric asks the scoring engine for per-dimension rubric scores.
func (c *HTTPClient) ScoreRubric(ctx context.Context, req *RubricRequest) (*RubricScores, error) {
	var out RubricScores
	if err := c.post(ctx, "/v1/rubric/score", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateFeedback turns rubric scores into narrative feedback.
func (c *HTTPClient) GenerateFeedback(ctx context.Context, scores *RubricScores) (*Feedback, error) {
	var out Feedback
	if err := c.post(ctx, "/v1/rubric/feedback", scores, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		return &CapacityError{Path: path, Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// CapacityError marks a transient gateway rejection the caller may retry.
type CapacityError struct {
	Path   string
	Status int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("model gateway over capacity on %s (status %d)", e.Path, e.Status)
}
