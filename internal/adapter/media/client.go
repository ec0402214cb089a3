// Package media provides the client for the media extraction service that
// turns a video reference into sampled frames and an audio track.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Extraction is the product of media extraction for one video.
type Extraction struct {
	VideoRef    string     `json:"video_ref"`
	DurationSec float64    `json:"duration_sec"`
	AudioRef    string     `json:"audio_ref"`
	Frames      []FrameRef `json:"frames"`
}

// FrameRef points at one sampled frame.
type FrameRef struct {
	Timestamp float64 `json:"timestamp"`
	URI       string  `json:"uri"`
}

// Extractor is the capability the extract agent depends on.
type Extractor interface {
	// Extract samples frames at sampleRate frames/second and demuxes the
	// audio track.
	Extract(ctx context.Context, videoRef string, sampleRate float64) (*Extraction, error)
}

// Client is the HTTP implementation of Extractor.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ Extractor = (*Client)(nil)

// NewClient creates a media extraction client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type extractRequest struct {
	VideoRef   string  `json:"video_ref"`
	SampleRate float64 `json:"sample_rate"`
}

// Extract calls the extraction service's /extract endpoint.
func (c *Client) Extract(ctx context.Context, videoRef string, sampleRate float64) (*Extraction, error) {
	body, err := json.Marshal(extractRequest{VideoRef: videoRef, SampleRate: sampleRate})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call extractor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		return nil, &CapacityError{Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("extractor returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var out Extraction
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode extraction: %w", err)
	}
	return &out, nil
}

// CapacityError marks a transient service rejection the caller may retry.
type CapacityError struct {
	Status int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("extractor over capacity (status %d)", e.Status)
}
