package media

import (
	"context"
	"fmt"
)

// MockExtractor is a deterministic Extractor for tests and MAS_MODE=MOCK.
type MockExtractor struct {
	// DurationSec controls the synthetic video length. Defaults to 600s.
	DurationSec float64
	// Fail makes every call return the given error.
	Fail error
}

var _ Extractor = (*MockExtractor)(nil)

// NewMockExtractor creates a mock extractor with a 10 minute synthetic video.
func NewMockExtractor() *MockExtractor {
	return &MockExtractor{DurationSec: 600}
}

// Extract fabricates one frame per sampling interval and a synthetic audio ref.
func (m *MockExtractor) Extract(ctx context.Context, videoRef string, sampleRate float64) (*Extraction, error) {
	if m.Fail != nil {
		return nil, m.Fail
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	duration := m.DurationSec
	if duration <= 0 {
		duration = 600
	}
	if sampleRate <= 0 {
		sampleRate = 1.0
	}

	interval := 1.0 / sampleRate
	var frames []FrameRef
	for ts := 0.0; ts < duration; ts += interval {
		frames = append(frames, FrameRef{
			Timestamp: ts,
			URI:       fmt.Sprintf("mock://frames/%s/%.1f.jpg", sanitize(videoRef), ts),
		})
	}

	return &Extraction{
		VideoRef:    videoRef,
		DurationSec: duration,
		AudioRef:    "mock://audio/" + sanitize(videoRef) + ".wav",
		Frames:      frames,
	}, nil
}

func sanitize(ref string) string {
	out := make([]byte, 0, len(ref))
	for i := 0; i < len(ref); i++ {
		c := ref[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
