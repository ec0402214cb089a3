package agents

import (
	"context"

	"github.com/edu-data/mas/internal/adapter/media"
	"github.com/edu-data/mas/internal/pipeline"
)

// ExtractAgent samples frames and demuxes audio from the submitted video.
// It is the sole root of the dependency graph.
type ExtractAgent struct {
	extractor media.Extractor
}

func NewExtractAgent(extractor media.Extractor) *ExtractAgent {
	return &ExtractAgent{extractor: extractor}
}

func (a *ExtractAgent) Descriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:     NameExtract,
		Category: "media",
		Weight:   1.5,
		Resource: pipeline.ResourceMedia,
	}
}

func (a *ExtractAgent) Execute(ctx context.Context, pc *pipeline.Context, progress pipeline.ProgressFunc) (pipeline.Result, error) {
	if pc.VideoRef == "" {
		return pipeline.Result{}, pipeline.NewAgentError(NameExtract, "missing_input", "no video reference in shared context", nil)
	}

	progress(10)
	extraction, err := a.extractor.Extract(ctx, pc.VideoRef, pc.Config.SampleRate)
	if err != nil {
		return pipeline.Result{}, wrapCallErr(NameExtract, err)
	}
	progress(90)

	if len(extraction.Frames) == 0 {
		return pipeline.Result{}, pipeline.NewAgentError(NameExtract, "empty_media", "extraction produced no frames", nil)
	}

	return pipeline.Result{Payload: extraction, Confidence: 1.0}, nil
}
