package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxcastlabs/voxcast-core/internal/audio"
	"github.com/voxcastlabs/voxcast-core/internal/bus"
	"github.com/voxcastlabs/voxcast-core/internal/config"
	"github.com/voxcastlabs/voxcast-core/internal/natsserver"
	"github.com/voxcastlabs/voxcast-core/internal/playback"
	"github.com/voxcastlabs/voxcast-core/internal/speaker"
	"github.com/voxcastlabs/voxcast-core/internal/store"
	"github.com/voxcastlabs/voxcast-core/internal/synth"
	"github.com/voxcastlabs/voxcast-core/internal/voice"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error

	natsServer *natsserver.EmbeddedServer
	busClient  *bus.Client
	store      *store.Store
	speaker    *speaker.Service
	queue      *playback.Queue

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if r.cfg.Bus.Embedded {
		ns, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded bus: %w", err)
		}
		r.natsServer = ns
	}

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.busClient = busClient

	st, err := store.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	r.store = st

	registry, err := voice.NewRegistry(
		r.cfg.Voices.CatalogPath,
		r.cfg.Voices.OverridesPath,
		r.cfg.Voices.SampleDir,
		r.logger,
	)
	if err != nil {
		return fmt.Errorf("failed to load voice catalog: %w", err)
	}

	pool := audio.NewDecodePool(r.cfg.Synth.DecodeWorkers)
	synthesizer, err := r.buildSynthesizer(pool)
	if err != nil {
		return err
	}

	provider, err := r.buildPlaybackProvider()
	if err != nil {
		return err
	}
	r.queue = playback.NewQueue(ctx, r.cfg.Playback, provider, r.logger)

	if r.cfg.Playback.IdleCheckSec > 0 {
		monitor := playback.NewIdleMonitor(
			provider,
			time.Duration(r.cfg.Playback.IdleCheckSec)*time.Second,
			r.logger,
		)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			monitor.Run(ctx)
		}()
	}

	r.speaker = speaker.NewService(
		ctx,
		r.cfg.Speaker,
		r.cfg.Synth,
		r.cfg.Voices,
		busClient,
		registry,
		synthesizer,
		r.queue,
		st,
		r.logger,
	)
	if err := r.speaker.Start(); err != nil {
		return fmt.Errorf("failed to start speaker service: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("synth_mode", r.cfg.Synth.Mode),
		slog.String("playback_mode", r.cfg.Playback.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}

	r.speaker.Close()
	r.queue.Close()
	r.busClient.Close()
	r.natsServer.Shutdown()
	if err := r.store.Close(); err != nil {
		r.logger.Error("store close error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) buildSynthesizer(pool *audio.DecodePool) (synth.Synthesizer, error) {
	switch r.cfg.Synth.Mode {
	case "mock":
		return synth.NewMockSynth(r.cfg.Playback.SampleRate, r.cfg.Playback.Channels), nil
	case "http":
		return synth.NewClient(r.cfg.Synth, r.cfg.Voices.SampleDir, pool, r.logger), nil
	default:
		return nil, fmt.Errorf("unknown synth mode %q", r.cfg.Synth.Mode)
	}
}

func (r *Runtime) buildPlaybackProvider() (*playback.Provider, error) {
	switch r.cfg.Playback.Mode {
	case "mock":
		return playback.NewMockProvider(), nil
	case "exec":
		return playback.NewExecProvider(r.cfg.Playback.PlayerCommand, r.logger)
	case "oto":
		return playback.NewOtoProvider(r.cfg.Playback, r.logger)
	default:
		return nil, fmt.Errorf("unknown playback mode %q", r.cfg.Playback.Mode)
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() && r.speaker.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
