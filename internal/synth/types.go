// Package synth turns text chunks plus a voice profile into one decoded
// audio clip by calling an external synthesis service.
package synth

import (
	"context"
	"fmt"

	"github.com/voxcastlabs/voxcast-core/internal/audio"
	"github.com/voxcastlabs/voxcast-core/internal/voice"
)

// Synthesizer is the contract for producing one combined clip per utterance.
// Chunks are rendered sequentially in order; a failed chunk fails the whole
// utterance and no partial clip is returned.
type Synthesizer interface {
	Synthesize(ctx context.Context, chunks []string, profile voice.Profile) (audio.Clip, error)
}

// SynthesisError reports a failed synthesis call for one chunk.
type SynthesisError struct {
	Status int
	Detail string
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis request failed: status %d: %s", e.Status, e.Detail)
}
