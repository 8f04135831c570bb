// Package playback owns the per-target FIFO queue that feeds decoded clips
// to a voice destination one at a time.
package playback

import (
	"context"
	"sync"

	"github.com/voxcastlabs/voxcast-core/internal/audio"
)

// Destination is the narrow voice-transport contract the queue depends on.
// Play returns a channel that delivers exactly one value when the transport
// signals completion; the driver blocks on it before dequeuing the next item.
type Destination interface {
	Connect(ctx context.Context, channelID string) error
	Move(ctx context.Context, channelID string) error
	Disconnect() error
	Play(ctx context.Context, clip audio.Clip) (<-chan error, error)
	IsConnected() bool
	IsPlaying() bool
	Channel() string
	// Listeners reports how many listeners besides the bot are present.
	Listeners() int
}

// Provider hands out one Destination per target, created lazily and reused.
type Provider struct {
	mu      sync.Mutex
	dests   map[uint64]Destination
	factory func(targetID uint64) Destination
}

func NewProvider(factory func(targetID uint64) Destination) *Provider {
	return &Provider{
		dests:   make(map[uint64]Destination),
		factory: factory,
	}
}

func (p *Provider) Destination(targetID uint64) Destination {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.dests[targetID]; ok {
		return d
	}
	d := p.factory(targetID)
	p.dests[targetID] = d
	return d
}

// Snapshot returns the destinations created so far. Used by the idle monitor.
func (p *Provider) Snapshot() []Destination {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Destination, 0, len(p.dests))
	for _, d := range p.dests {
		out = append(out, d)
	}
	return out
}
