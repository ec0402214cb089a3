package agents

import (
	"context"

	"github.com/edu-data/mas/internal/adapter/inference"
	"github.com/edu-data/mas/internal/adapter/media"
	"github.com/edu-data/mas/internal/pipeline"
)

// STTResult carries the transcript and its aggregate recognition confidence.
type STTResult struct {
	Transcript    inference.Transcript `json:"transcript"`
	SegmentCount  int                  `json:"segment_count"`
	AvgConfidence float64              `json:"avg_confidence"`
}

// STTAgent transcribes the demuxed audio track.
type STTAgent struct {
	inf inference.Client
}

func NewSTTAgent(inf inference.Client) *STTAgent {
	return &STTAgent{inf: inf}
}

func (a *STTAgent) Descriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:      NameSTT,
		DependsOn: []string{NameExtract},
		Category:  "analysis",
		Weight:    1.5,
		Resource:  pipeline.ResourceSTT,
	}
}

func (a *STTAgent) Execute(ctx context.Context, pc *pipeline.Context, progress pipeline.ProgressFunc) (pipeline.Result, error) {
	extraction, ok, err := input[*media.Extraction](pc, NameSTT, NameExtract)
	if err != nil {
		return pipeline.Result{}, err
	}
	if !ok {
		return pipeline.Result{}, pipeline.NewAgentError(NameSTT, "missing_input", "no extraction available", nil)
	}
	if extraction.AudioRef == "" {
		return pipeline.Result{}, pipeline.NewAgentError(NameSTT, "missing_input", "extraction produced no audio track", nil)
	}

	progress(10)
	transcript, err := a.inf.Transcribe(ctx, extraction.AudioRef, pc.Config.Language)
	if err != nil {
		return pipeline.Result{}, wrapCallErr(NameSTT, err)
	}
	progress(85)

	res := STTResult{Transcript: *transcript, SegmentCount: len(transcript.Segments)}
	var conf float64
	for _, seg := range transcript.Segments {
		conf += seg.Confidence
	}
	if res.SegmentCount > 0 {
		res.AvgConfidence = conf / float64(res.SegmentCount)
	}

	return pipeline.Result{Payload: &res, Confidence: res.AvgConfidence}, nil
}
