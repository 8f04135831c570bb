package playback

import (
	"context"
	"sync"
	"time"

	"github.com/voxcastlabs/voxcast-core/internal/audio"
)

// MockDestination simulates a voice transport. It is used in mock playback
// mode and as the test double for queue ordering tests.
type MockDestination struct {
	// PlayDelay is how long a clip "plays" before completion is signaled.
	PlayDelay time.Duration
	// ConnectErr makes Connect and Move fail when set.
	ConnectErr error
	// PlayErr is delivered on the completion channel when set.
	PlayErr error
	// ListenerCount is what Listeners reports.
	ListenerCount int

	mu        sync.Mutex
	connected bool
	channel   string
	playing   bool
	played    []audio.Clip
}

func NewMockProvider() *Provider {
	return NewProvider(func(uint64) Destination {
		return &MockDestination{}
	})
}

func (d *MockDestination) Connect(_ context.Context, channelID string) error {
	if d.ConnectErr != nil {
		return d.ConnectErr
	}
	d.mu.Lock()
	d.connected = true
	d.channel = channelID
	d.mu.Unlock()
	return nil
}

func (d *MockDestination) Move(ctx context.Context, channelID string) error {
	return d.Connect(ctx, channelID)
}

func (d *MockDestination) Disconnect() error {
	d.mu.Lock()
	d.connected = false
	d.channel = ""
	d.mu.Unlock()
	return nil
}

func (d *MockDestination) Play(ctx context.Context, clip audio.Clip) (<-chan error, error) {
	d.mu.Lock()
	d.playing = true
	d.played = append(d.played, clip)
	d.mu.Unlock()

	done := make(chan error, 1)
	delay := d.PlayDelay
	go func() {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
		}
		d.mu.Lock()
		d.playing = false
		d.mu.Unlock()
		done <- d.PlayErr
	}()
	return done, nil
}

func (d *MockDestination) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *MockDestination) IsPlaying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing
}

func (d *MockDestination) Channel() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channel
}

func (d *MockDestination) Listeners() int { return d.ListenerCount }

// Played returns the clips handed to Play, in invocation order.
func (d *MockDestination) Played() []audio.Clip {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]audio.Clip(nil), d.played...)
}
