package synth

import (
	"context"
	"time"

	"github.com/voxcastlabs/voxcast-core/internal/audio"
	"github.com/voxcastlabs/voxcast-core/internal/voice"
)

type mockSynth struct {
	sampleRate int
	channels   int
}

// NewMockSynth returns a synthesizer that renders a short silent clip per
// chunk. Used in development when no synthesis service is running.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

func (m *mockSynth) Synthesize(ctx context.Context, chunks []string, _ voice.Profile) (audio.Clip, error) {
	if len(chunks) == 0 {
		return audio.Clip{}, nil
	}
	select {
	case <-ctx.Done():
		return audio.Clip{}, ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}
	// 300ms of silence per chunk
	frames := m.sampleRate * 3 / 10 * m.channels * len(chunks)
	return audio.FromPCM(make([]int, frames), m.sampleRate, m.channels), nil
}
