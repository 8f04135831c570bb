package playback

import (
	"context"
	"log/slog"
	"time"
)

// IdleMonitor periodically disconnects destinations that are connected but
// have no listeners besides the bot. Advisory housekeeping; it runs
// independently of the queue's own state.
type IdleMonitor struct {
	provider *Provider
	interval time.Duration
	log      *slog.Logger
}

func NewIdleMonitor(provider *Provider, interval time.Duration, log *slog.Logger) *IdleMonitor {
	return &IdleMonitor{
		provider: provider,
		interval: interval,
		log:      log.With(slog.String("component", "idle-monitor")),
	}
}

// Run blocks until ctx is cancelled.
func (m *IdleMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *IdleMonitor) sweep() {
	for _, dest := range m.provider.Snapshot() {
		if !dest.IsConnected() || dest.IsPlaying() {
			continue
		}
		if dest.Listeners() > 0 {
			continue
		}
		m.log.Info("no listeners left, disconnecting", slog.String("channel", dest.Channel()))
		if err := dest.Disconnect(); err != nil {
			m.log.Warn("idle disconnect failed", slog.String("error", err.Error()))
		}
	}
}
