package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxcastlabs/voxcast-core/internal/audio"
	"github.com/voxcastlabs/voxcast-core/internal/config"
)

// Item is one queued utterance ready for playback.
type Item struct {
	Clip      audio.Clip
	TargetID  uint64
	ChannelID string
	// Label carries the source text for logging.
	Label string
	// Release frees any per-item resource. Called exactly once on every exit
	// path: played, skipped, playback error, or cleared. May be nil.
	Release func()
}

func (i Item) release() {
	if i.Release != nil {
		i.Release()
	}
}

type targetState struct {
	items    []Item
	draining bool
	cancel   context.CancelFunc
}

// Queue plays items strictly in enqueue order, one at a time per target.
// At most one driver goroutine is active per target.
type Queue struct {
	cfg      config.PlaybackConfig
	provider *Provider
	log      *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	targets map[uint64]*targetState

	meter       metric.Meter
	playedCount metric.Int64Counter
	skipCount   metric.Int64Counter
	depthGauge  metric.Int64ObservableGauge
}

func NewQueue(parent context.Context, cfg config.PlaybackConfig, provider *Provider, log *slog.Logger) *Queue {
	ctx, cancel := context.WithCancel(parent)
	q := &Queue{
		cfg:      cfg,
		provider: provider,
		log:      log.With(slog.String("component", "playback-queue")),
		ctx:      ctx,
		cancel:   cancel,
		targets:  make(map[uint64]*targetState),
		meter:    otel.Meter("github.com/voxcastlabs/voxcast-core/playback"),
	}
	if err := q.initMetrics(); err != nil {
		q.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return q
}

func (q *Queue) initMetrics() error {
	played, err := q.meter.Int64Counter("voxcast.playback.played",
		metric.WithDescription("Items played to completion"))
	if err != nil {
		return err
	}
	skipped, err := q.meter.Int64Counter("voxcast.playback.skipped",
		metric.WithDescription("Items skipped after connect or playback failure"))
	if err != nil {
		return err
	}
	depth, err := q.meter.Int64ObservableGauge("voxcast.playback.queued",
		metric.WithDescription("Items currently queued across all targets"))
	if err != nil {
		return err
	}
	q.playedCount = played
	q.skipCount = skipped
	q.depthGauge = depth
	_, err = q.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(depth, q.queuedItems())
		return nil
	}, depth)
	return err
}

func (q *Queue) queuedItems() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for _, st := range q.targets {
		n += int64(len(st.items))
	}
	return n
}

// Enqueue appends item to its target's queue and starts a driver if none is
// active for that target. The check-and-start is atomic under the queue lock
// so concurrent enqueues can never start a second driver. Drivers live on the
// queue's own context, not the caller's.
func (q *Queue) Enqueue(item Item) {
	q.mu.Lock()
	st, ok := q.targets[item.TargetID]
	if !ok {
		st = &targetState{}
		q.targets[item.TargetID] = st
	}
	st.items = append(st.items, item)
	start := !st.draining
	if start {
		st.draining = true
		driverCtx, cancel := context.WithCancel(q.ctx)
		st.cancel = cancel
		go q.drain(driverCtx, st, item.TargetID)
	}
	q.mu.Unlock()

	if start {
		q.log.Debug("driver started", slog.Uint64("target", item.TargetID))
	}
}

// Close cancels every driver. Queued items are released.
func (q *Queue) Close() {
	q.cancel()
	q.mu.Lock()
	var items []Item
	for _, st := range q.targets {
		items = append(items, st.items...)
		st.items = nil
	}
	q.targets = make(map[uint64]*targetState)
	q.mu.Unlock()
	for _, item := range items {
		item.release()
	}
}

// Clear atomically replaces the target's queue with an empty one and cancels
// its driver. Queued item resources are released. Subsequent enqueues
// recreate the queue and driver normally. The items and cancel func are
// captured under the lock: the driver mutates both, so reading them from the
// detached state afterwards would race and could release an item twice.
func (q *Queue) Clear(targetID uint64) {
	q.mu.Lock()
	st, ok := q.targets[targetID]
	var items []Item
	var cancel context.CancelFunc
	if ok {
		delete(q.targets, targetID)
		items = st.items
		st.items = nil
		cancel = st.cancel
		st.cancel = nil
	}
	q.mu.Unlock()

	if !ok {
		return
	}
	if cancel != nil {
		cancel()
	}
	for _, item := range items {
		item.release()
	}
	q.log.Info("queue cleared", slog.Uint64("target", targetID))
}

// drain pulls items off st until it observes the queue empty. st may be
// detached by Clear while draining; marking a detached state idle is harmless
// because enqueues only consult the state currently in the map.
func (q *Queue) drain(ctx context.Context, st *targetState, targetID uint64) {
	for {
		if ctx.Err() != nil {
			return
		}

		q.mu.Lock()
		if len(st.items) == 0 {
			st.draining = false
			st.cancel = nil
			q.mu.Unlock()
			return
		}
		item := st.items[0]
		st.items = st.items[1:]
		q.mu.Unlock()

		q.playItem(ctx, item)

		if pause := time.Duration(q.cfg.ItemPauseMS) * time.Millisecond; pause > 0 {
			select {
			case <-time.After(pause):
			case <-ctx.Done():
				return
			}
		}
	}
}

// playItem connects the destination to the item's channel and plays the clip
// to completion. Connect failures skip the item; errors never escape the
// driver loop.
func (q *Queue) playItem(ctx context.Context, item Item) {
	defer item.release()

	dest := q.provider.Destination(item.TargetID)

	connectCtx, cancel := context.WithTimeout(ctx, time.Duration(q.cfg.ConnectTimeoutMS)*time.Millisecond)
	defer cancel()

	var err error
	switch {
	case !dest.IsConnected():
		err = dest.Connect(connectCtx, item.ChannelID)
	case dest.Channel() != item.ChannelID:
		err = dest.Move(connectCtx, item.ChannelID)
	}
	if err != nil {
		q.log.Warn("playback connect failed, skipping item",
			slog.Uint64("target", item.TargetID),
			slog.String("channel", item.ChannelID),
			slog.String("error", err.Error()))
		q.addCount(ctx, q.skipCount)
		return
	}

	done, err := dest.Play(ctx, item.Clip)
	if err != nil {
		q.log.Warn("playback start failed, skipping item",
			slog.Uint64("target", item.TargetID),
			slog.String("error", err.Error()))
		q.addCount(ctx, q.skipCount)
		return
	}

	q.log.Info("playing item",
		slog.Uint64("target", item.TargetID),
		slog.String("label", item.Label),
		slog.Duration("duration", item.Clip.Duration()))

	select {
	case playErr := <-done:
		if playErr != nil {
			q.log.Warn("playback error",
				slog.Uint64("target", item.TargetID),
				slog.String("error", playErr.Error()))
			q.addCount(ctx, q.skipCount)
			return
		}
		q.addCount(ctx, q.playedCount)
	case <-ctx.Done():
	}
}

func (q *Queue) addCount(ctx context.Context, counter metric.Int64Counter) {
	if counter != nil {
		counter.Add(context.WithoutCancel(ctx), 1)
	}
}
