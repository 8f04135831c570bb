// Package speaker exposes the speak operation: normalize text, synthesize
// one combined clip, and hand it to the playback queue.
package speaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/voxcastlabs/voxcast-core/internal/bus"
	"github.com/voxcastlabs/voxcast-core/internal/config"
	"github.com/voxcastlabs/voxcast-core/internal/playback"
	"github.com/voxcastlabs/voxcast-core/internal/protocol"
	"github.com/voxcastlabs/voxcast-core/internal/store"
	"github.com/voxcastlabs/voxcast-core/internal/synth"
	"github.com/voxcastlabs/voxcast-core/internal/text"
	"github.com/voxcastlabs/voxcast-core/internal/voice"
)

// Request is one utterance to voice into a target's channel.
type Request struct {
	Text      string
	TargetID  uint64
	ChannelID string
	Character string
}

// Service handles speak requests from the bus and offers Speak directly.
type Service struct {
	cfg      config.SpeakerConfig
	synthCfg config.SynthConfig
	voices   config.VoicesConfig

	bus      *bus.Client
	registry *voice.Registry
	synth    synth.Synthesizer
	queue    *playback.Queue
	store    *store.Store
	resolver text.MentionResolver

	subSpeak *nats.Subscription
	subClear *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc

	closeMu sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewService(
	parent context.Context,
	cfg config.SpeakerConfig,
	synthCfg config.SynthConfig,
	voicesCfg config.VoicesConfig,
	busClient *bus.Client,
	registry *voice.Registry,
	synthesizer synth.Synthesizer,
	queue *playback.Queue,
	st *store.Store,
	log *slog.Logger,
) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		synthCfg: synthCfg,
		voices:   voicesCfg,
		bus:      busClient,
		registry: registry,
		synth:    synthesizer,
		queue:    queue,
		store:    st,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "speaker-service")),
	}
}

// SetMentionResolver installs the optional mention resolution capability.
func (s *Service) SetMentionResolver(r text.MentionResolver) { s.resolver = r }

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSpeakRequest, s.handleSpeak)
	if err != nil {
		return err
	}
	s.subSpeak = sub

	subClear, err := s.bus.Conn().Subscribe(protocol.SubjectSpeakClear, s.handleClear)
	if err != nil {
		s.subSpeak.Drain()
		return err
	}
	s.subClear = subClear
	return nil
}

// Close stops accepting new work, drops the subscriptions, and waits for
// in-flight handlers. The closed flag is set first so a handler firing during
// unsubscription cannot register with the wait group after Wait begins.
func (s *Service) Close() {
	s.closeMu.Lock()
	s.closed = true
	s.closeMu.Unlock()
	s.cancel()
	if s.subSpeak != nil {
		_ = s.subSpeak.Unsubscribe()
	}
	if s.subClear != nil {
		_ = s.subClear.Unsubscribe()
	}
	s.wg.Wait()
}

// track registers one handler goroutine, refusing once Close has begun.
func (s *Service) track() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || (s.subSpeak != nil && s.subClear != nil)
}

// Speak renders req.Text with the requested character's voice and enqueues
// the combined clip. Either the full utterance is queued or nothing is.
// Blank text after normalization is a no-op success.
func (s *Service) Speak(ctx context.Context, req Request) error {
	normalized := text.Normalize(req.Text, s.resolver)
	chunks := text.Segment(normalized, s.synthCfg.MaxRunLength, s.synthCfg.ChunkSentences)
	if len(chunks) == 0 {
		return nil
	}

	character := req.Character
	if character == "" {
		character = s.voices.DefaultVoice
	}

	profile, err := s.registry.Resolve(character)
	if err != nil {
		s.recordUtterance(ctx, req, character, store.StatusFailed, err.Error())
		return err
	}

	clip, err := s.synth.Synthesize(ctx, chunks, profile)
	if err != nil {
		s.recordUtterance(ctx, req, character, store.StatusFailed, err.Error())
		return fmt.Errorf("synthesize utterance: %w", err)
	}
	if clip.Empty() {
		return nil
	}

	s.queue.Enqueue(playback.Item{
		Clip:      clip,
		TargetID:  req.TargetID,
		ChannelID: req.ChannelID,
		Label:     normalized,
	})
	s.recordUtterance(ctx, req, character, store.StatusQueued, "")

	s.logger.Info("utterance queued",
		slog.Uint64("target", req.TargetID),
		slog.String("character", character),
		slog.Int("chunks", len(chunks)))
	return nil
}

// SpeakWithRetry retries failed utterances a fixed number of times with a
// fixed delay. Unknown voices are surfaced immediately, never retried.
func (s *Service) SpeakWithRetry(ctx context.Context, req Request) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		lastErr = s.Speak(ctx, req)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, voice.ErrVoiceNotFound) {
			return lastErr
		}
		if attempt < s.cfg.MaxAttempts {
			s.logger.Warn("speak attempt failed, retrying",
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()))
			select {
			case <-time.After(time.Duration(s.cfg.RetryDelayMS) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// Clear drops the target's pending playback queue.
func (s *Service) Clear(targetID uint64) {
	s.queue.Clear(targetID)
}

func (s *Service) recordUtterance(ctx context.Context, req Request, character, status, detail string) {
	if s.store == nil {
		return
	}
	err := s.store.RecordUtterance(ctx, store.Utterance{
		ID:        uuid.NewString(),
		TargetID:  req.TargetID,
		Character: character,
		Label:     req.Text,
		Status:    status,
		Detail:    detail,
	})
	if err != nil {
		s.logger.Warn("failed to record utterance", slog.String("error", err.Error()))
	}
}

func (s *Service) handleSpeak(msg *nats.Msg) {
	var req protocol.SpeakRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode speak request", slogError(err))
		return
	}

	if !s.track() {
		return
	}
	go func() {
		defer s.wg.Done()
		s.processSpeak(req)
	}()
}

func (s *Service) processSpeak(req protocol.SpeakRequest) {
	speakText := req.Text
	character := req.Character

	if req.UserID != 0 && s.store != nil {
		settings, err := s.store.UserSettings(s.ctx, req.UserID)
		if err != nil {
			s.logger.Warn("failed to load user settings", slogError(err))
		} else {
			if !settings.Enabled(true) {
				s.publishResult(req, false, "tts disabled for user")
				return
			}
			if character == "" {
				character = settings.Voice(s.voices.DefaultVoice)
			}
		}
	}
	if req.OwnVoice && req.UserID != 0 {
		character = strconv.FormatUint(req.UserID, 10)
	} else if req.SpeakerName != "" {
		speakText = req.SpeakerName + " 說: " + speakText
	}

	err := s.SpeakWithRetry(s.ctx, Request{
		Text:      speakText,
		TargetID:  req.TargetID,
		ChannelID: req.ChannelID,
		Character: character,
	})
	if err != nil {
		s.logger.Warn("speak request failed",
			slog.Uint64("target", req.TargetID),
			slogError(err))
		s.publishResult(req, false, err.Error())
		return
	}
	s.publishResult(req, true, "")
}

func (s *Service) publishResult(req protocol.SpeakRequest, queued bool, detail string) {
	if s.bus == nil {
		return
	}
	result := protocol.SpeakResult{
		RequestID: req.RequestID,
		TargetID:  req.TargetID,
		Queued:    queued,
		Error:     detail,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn("failed to marshal speak result", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectSpeakResult, data); err != nil {
		s.logger.Warn("failed to publish speak result", slogError(err))
	}
}

func (s *Service) handleClear(msg *nats.Msg) {
	var req protocol.ClearRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode clear request", slogError(err))
		return
	}
	s.queue.Clear(req.TargetID)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
