package playback

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/voxcastlabs/voxcast-core/internal/audio"
	"github.com/voxcastlabs/voxcast-core/internal/config"
)

// otoDestination plays clips on the local audio device. All targets share one
// oto context; the platform allows only one per process. Clips must match the
// configured sample rate and channel count.
type otoDestination struct {
	otoCtx *oto.Context
	log    *slog.Logger

	mu        sync.Mutex
	connected bool
	channel   string
	playing   bool
}

func NewOtoProvider(cfg config.PlaybackConfig, log *slog.Logger) (*Provider, error) {
	op := &oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatSignedInt16LE,
	}
	otoCtx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("create audio context: %w", err)
	}
	<-ready

	return NewProvider(func(targetID uint64) Destination {
		return &otoDestination{
			otoCtx: otoCtx,
			log:    log.With(slog.String("component", "oto-destination"), slog.Uint64("target", targetID)),
		}
	}), nil
}

func (d *otoDestination) Connect(_ context.Context, channelID string) error {
	d.mu.Lock()
	d.connected = true
	d.channel = channelID
	d.mu.Unlock()
	return nil
}

func (d *otoDestination) Move(ctx context.Context, channelID string) error {
	return d.Connect(ctx, channelID)
}

func (d *otoDestination) Disconnect() error {
	d.mu.Lock()
	d.connected = false
	d.channel = ""
	d.mu.Unlock()
	return nil
}

func (d *otoDestination) Play(ctx context.Context, clip audio.Clip) (<-chan error, error) {
	// pcm must stay referenced until the player finishes, or the device
	// reads freed memory and produces static.
	pcm := clip.PCMBytes()
	player := d.otoCtx.NewPlayer(bytes.NewReader(pcm))
	player.Play()

	d.mu.Lock()
	d.playing = true
	d.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for player.IsPlaying() && ctx.Err() == nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
			}
		}
		err := player.Close()
		runtime.KeepAlive(pcm)
		d.mu.Lock()
		d.playing = false
		d.mu.Unlock()
		done <- err
	}()
	return done, nil
}

func (d *otoDestination) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *otoDestination) IsPlaying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing
}

func (d *otoDestination) Channel() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channel
}

func (d *otoDestination) Listeners() int { return 1 }
