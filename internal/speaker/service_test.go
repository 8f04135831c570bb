package speaker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/voxcastlabs/voxcast-core/internal/audio"
	"github.com/voxcastlabs/voxcast-core/internal/config"
	"github.com/voxcastlabs/voxcast-core/internal/playback"
	"github.com/voxcastlabs/voxcast-core/internal/protocol"
	"github.com/voxcastlabs/voxcast-core/internal/voice"
)

type fakeSynth struct {
	mu       sync.Mutex
	calls    [][]string
	profiles []string
	errs     []error
	clip     audio.Clip
}

func (f *fakeSynth) Synthesize(_ context.Context, chunks []string, profile voice.Profile) (audio.Clip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), chunks...))
	f.profiles = append(f.profiles, profile.Name)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return audio.Clip{}, err
		}
	}
	return f.clip, nil
}

func (f *fakeSynth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSynth) call(i int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func (f *fakeSynth) profile(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profiles[i]
}

func newTestRegistry(t *testing.T) *voice.Registry {
	t.Helper()
	dir := t.TempDir()
	catalog := []voice.Profile{
		{Name: "default", SampleFile: "default.wav", SampleText: "預設的參考語音"},
		{Name: "narrator", SampleFile: "narrator.wav", SampleText: "旁白的參考語音"},
	}
	data, err := json.Marshal(catalog)
	if err != nil {
		t.Fatalf("marshal catalog: %v", err)
	}
	catalogPath := filepath.Join(dir, "voices.json")
	if err := os.WriteFile(catalogPath, data, 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	reg, err := voice.NewRegistry(catalogPath, filepath.Join(dir, "user_voices.json"), dir, testLogger())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testHarness struct {
	svc   *Service
	synth *fakeSynth
	dest  *playback.MockDestination
	queue *playback.Queue
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	synth := &fakeSynth{clip: audio.FromPCM([]int{1, 2, 3, 4}, 44100, 1)}
	dest := &playback.MockDestination{PlayDelay: time.Millisecond, ListenerCount: 1}
	provider := playback.NewProvider(func(uint64) playback.Destination { return dest })
	queue := playback.NewQueue(context.Background(), config.PlaybackConfig{
		Mode:             "mock",
		ItemPauseMS:      1,
		ConnectTimeoutMS: 1000,
	}, provider, testLogger())
	t.Cleanup(queue.Close)

	svc := NewService(
		context.Background(),
		config.SpeakerConfig{Enabled: true, MaxAttempts: 3, RetryDelayMS: 1},
		config.SynthConfig{MaxRunLength: 200, ChunkSentences: 2},
		config.VoicesConfig{DefaultVoice: "default"},
		nil,
		newTestRegistry(t),
		synth,
		queue,
		nil,
		testLogger(),
	)
	t.Cleanup(svc.Close)
	return &testHarness{svc: svc, synth: synth, dest: dest, queue: queue}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSpeakQueuesCombinedClip(t *testing.T) {
	h := newTestHarness(t)

	err := h.svc.Speak(context.Background(), Request{
		Text:      "這是第一句。這是第二句！這是第三句？",
		TargetID:  42,
		ChannelID: "general",
		Character: "narrator",
	})
	if err != nil {
		t.Fatalf("speak: %v", err)
	}

	if got := h.synth.callCount(); got != 1 {
		t.Fatalf("expected one synthesis call, got %d", got)
	}
	chunks := h.synth.call(0)
	want := []string{"這是第一句。 這是第二句！", "這是第三句？"}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %v", len(want), chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Fatalf("chunk %d: got %q, want %q", i, chunks[i], want[i])
		}
	}
	if got := h.synth.profile(0); got != "narrator" {
		t.Fatalf("expected narrator profile, got %q", got)
	}

	waitFor(t, 2*time.Second, func() bool { return len(h.dest.Played()) == 1 })
}

func TestSpeakUnknownVoice(t *testing.T) {
	h := newTestHarness(t)

	err := h.svc.Speak(context.Background(), Request{
		Text:      "你好。",
		TargetID:  42,
		Character: "nobody",
	})
	if !errors.Is(err, voice.ErrVoiceNotFound) {
		t.Fatalf("expected ErrVoiceNotFound, got %v", err)
	}
	if got := h.synth.callCount(); got != 0 {
		t.Fatalf("synthesizer should not be called, got %d calls", got)
	}
	if got := len(h.dest.Played()); got != 0 {
		t.Fatalf("nothing should be played, got %d", got)
	}
}

func TestSpeakSynthesisFailureQueuesNothing(t *testing.T) {
	h := newTestHarness(t)
	h.synth.errs = []error{errors.New("backend unavailable")}

	err := h.svc.Speak(context.Background(), Request{
		Text:      "你好。",
		TargetID:  42,
		Character: "narrator",
	})
	if err == nil {
		t.Fatal("expected synthesis error")
	}

	time.Sleep(50 * time.Millisecond)
	if got := len(h.dest.Played()); got != 0 {
		t.Fatalf("nothing should be played after failure, got %d", got)
	}
}

func TestSpeakEmptyTextIsNoop(t *testing.T) {
	h := newTestHarness(t)

	if err := h.svc.Speak(context.Background(), Request{Text: "   \n ", TargetID: 42}); err != nil {
		t.Fatalf("empty text should be a no-op success, got %v", err)
	}
	if got := h.synth.callCount(); got != 0 {
		t.Fatalf("synthesizer should not be called, got %d calls", got)
	}
}

func TestSpeakDefaultVoiceFallback(t *testing.T) {
	h := newTestHarness(t)

	err := h.svc.Speak(context.Background(), Request{
		Text:     "你好。",
		TargetID: 42,
	})
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	if got := h.synth.profile(0); got != "default" {
		t.Fatalf("expected default profile, got %q", got)
	}
}

func TestSpeakWithRetryRecovers(t *testing.T) {
	h := newTestHarness(t)
	h.synth.errs = []error{
		errors.New("backend unavailable"),
		errors.New("backend unavailable"),
		nil,
	}

	err := h.svc.SpeakWithRetry(context.Background(), Request{
		Text:      "你好。",
		TargetID:  42,
		Character: "narrator",
	})
	if err != nil {
		t.Fatalf("expected recovery after retries, got %v", err)
	}
	if got := h.synth.callCount(); got != 3 {
		t.Fatalf("expected 3 synthesis attempts, got %d", got)
	}
	waitFor(t, 2*time.Second, func() bool { return len(h.dest.Played()) == 1 })
}

func TestSpeakWithRetryExhaustsAttempts(t *testing.T) {
	h := newTestHarness(t)
	h.synth.errs = []error{
		errors.New("backend unavailable"),
		errors.New("backend unavailable"),
		errors.New("backend unavailable"),
	}

	err := h.svc.SpeakWithRetry(context.Background(), Request{
		Text:      "你好。",
		TargetID:  42,
		Character: "narrator",
	})
	if err == nil {
		t.Fatal("expected failure after exhausting attempts")
	}
	if got := h.synth.callCount(); got != 3 {
		t.Fatalf("expected 3 synthesis attempts, got %d", got)
	}
}

func TestCloseRejectsLateHandlers(t *testing.T) {
	h := newTestHarness(t)

	payload, err := json.Marshal(protocol.SpeakRequest{
		Text:      "你好。",
		TargetID:  42,
		Character: "narrator",
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	// Handlers may still fire while Close tears the subscription down; none
	// may register after the wait begins, and none may do work afterwards.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				h.svc.handleSpeak(&nats.Msg{Data: payload})
			}
		}()
	}
	h.svc.Close()
	wg.Wait()

	before := h.synth.callCount()
	h.svc.handleSpeak(&nats.Msg{Data: payload})
	time.Sleep(20 * time.Millisecond)
	if got := h.synth.callCount(); got != before {
		t.Fatalf("handler did work after close: %d synthesis calls, want %d", got, before)
	}
}

func TestSpeakWithRetryDoesNotRetryUnknownVoice(t *testing.T) {
	h := newTestHarness(t)
	h.svc.cfg.RetryDelayMS = 2000

	start := time.Now()
	err := h.svc.SpeakWithRetry(context.Background(), Request{
		Text:      "你好。",
		TargetID:  42,
		Character: "nobody",
	})
	if !errors.Is(err, voice.ErrVoiceNotFound) {
		t.Fatalf("expected ErrVoiceNotFound, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("unknown voice should fail fast, took %v", elapsed)
	}
}
