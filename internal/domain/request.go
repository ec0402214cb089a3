package domain

// RunConfig carries pipeline-wide tunables for one submission.
type RunConfig struct {
	SampleRate     float64 `json:"sample_rate,omitempty"`      // frames per second, default 1.0
	MaxDurationSec int     `json:"max_duration_sec,omitempty"` // reject longer videos
	Language       string  `json:"language,omitempty"`
	RubricVersion  string  `json:"rubric_version,omitempty"`
}

// SubmitRequest is the body of POST /v1/analyses.
type SubmitRequest struct {
	VideoRef string    `json:"video_ref"`
	Config   RunConfig `json:"config"`
}

// SubmitResponse is the response to a successful submission.
type SubmitResponse struct {
	RunID  string    `json:"run_id"`
	Status RunStatus `json:"status"`
}
