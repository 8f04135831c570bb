package playback

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/voxcastlabs/voxcast-core/internal/audio"
)

// execDestination plays clips through an external player subprocess, e.g.
// "ffplay -nodisp -autoexit -loglevel error". The temp WAV created per clip
// is removed once the process exits, on every path.
type execDestination struct {
	cmd []string
	log *slog.Logger

	mu        sync.Mutex
	connected bool
	channel   string
	playing   bool
}

// NewExecProvider parses the player command once and hands out one exec
// destination per target. The argument list is explicit; log silencing flags
// like "-loglevel error" belong in the configured command.
func NewExecProvider(command string, log *slog.Logger) (*Provider, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse player command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("player command empty")
	}
	return NewProvider(func(targetID uint64) Destination {
		return &execDestination{
			cmd: args,
			log: log.With(slog.String("component", "exec-destination"), slog.Uint64("target", targetID)),
		}
	}), nil
}

func (d *execDestination) Connect(_ context.Context, channelID string) error {
	d.mu.Lock()
	d.connected = true
	d.channel = channelID
	d.mu.Unlock()
	return nil
}

func (d *execDestination) Move(ctx context.Context, channelID string) error {
	return d.Connect(ctx, channelID)
}

func (d *execDestination) Disconnect() error {
	d.mu.Lock()
	d.connected = false
	d.channel = ""
	d.mu.Unlock()
	return nil
}

func (d *execDestination) Play(ctx context.Context, clip audio.Clip) (<-chan error, error) {
	file, err := os.CreateTemp("", "voxcast_play_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	path := file.Name()
	file.Close()
	if err := audio.WriteWAVFile(path, clip); err != nil {
		os.Remove(path)
		return nil, err
	}

	base := d.cmd[0]
	args := append(append([]string{}, d.cmd[1:]...), path)
	command := exec.CommandContext(ctx, base, args...)
	if err := command.Start(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("start player: %w", err)
	}

	d.mu.Lock()
	d.playing = true
	d.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		err := command.Wait()
		if rmErr := os.Remove(path); rmErr != nil {
			d.log.Warn("failed to remove temp clip", slog.String("error", rmErr.Error()))
		}
		d.mu.Lock()
		d.playing = false
		d.mu.Unlock()
		done <- err
	}()
	return done, nil
}

func (d *execDestination) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *execDestination) IsPlaying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing
}

func (d *execDestination) Channel() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channel
}

// Listeners reports 1: local playback always has a listener, so the idle
// monitor never tears the destination down.
func (d *execDestination) Listeners() int { return 1 }
