package synth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/voxcastlabs/voxcast-core/internal/audio"
	"github.com/voxcastlabs/voxcast-core/internal/config"
	"github.com/voxcastlabs/voxcast-core/internal/voice"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func wavBytes(t *testing.T, samples []int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resp.wav")
	if err := audio.WriteWAVFile(path, audio.FromPCM(samples, 22050, 1)); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	return data
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	cfg := config.Default().Synth
	cfg.Endpoint = endpoint
	cfg.TimeoutSec = 10
	return NewClient(cfg, "/samples", audio.NewDecodePool(2), newLogger())
}

func testProfile() voice.Profile {
	return voice.Profile{Name: "narrator", SampleFile: "narrator.wav", SampleText: "一二三。"}
}

func TestSynthesizeCombinesChunks(t *testing.T) {
	response := wavBytes(t, []int{1, 2, 3, 4})
	var requests []ttsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		requests = append(requests, req)
		w.Write(response)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	clip, err := client.Synthesize(context.Background(), []string{"第一塊。", "第二塊。"}, testProfile())
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if clip.Empty() {
		t.Fatal("expected combined clip")
	}
	if clip.Duration() <= 0 {
		t.Fatal("expected positive duration")
	}

	if len(requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(requests))
	}
	if requests[0].Text != "第一塊。" || requests[1].Text != "第二塊。" {
		t.Fatalf("chunks sent out of order: %+v", requests)
	}
	first := requests[0]
	if first.RefAudioPath != "/samples/narrator.wav" {
		t.Fatalf("unexpected ref audio path %q", first.RefAudioPath)
	}
	if first.PromptText != "一二三。" {
		t.Fatalf("unexpected prompt text %q", first.PromptText)
	}
	if first.TextSplitMethod != "cut5" || first.MediaType != "wav" {
		t.Fatalf("unexpected fixed parameters: %+v", first)
	}
	if first.TopK != 5 || first.RepetitionPenalty != 1.35 || first.Seed != -1 {
		t.Fatalf("unexpected generation parameters: %+v", first)
	}
}

func TestSynthesizeFailedChunkDiscardsPartial(t *testing.T) {
	response := wavBytes(t, []int{1, 2, 3, 4})
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 2 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message": "reference audio missing"}`))
			return
		}
		w.Write(response)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	clip, err := client.Synthesize(context.Background(), []string{"一。", "二。", "三。"}, testProfile())

	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("expected SynthesisError, got %v", err)
	}
	if synthErr.Status != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", synthErr.Status)
	}
	if !clip.Empty() {
		t.Fatal("partial clip must be discarded on failure")
	}
	if calls.Load() != 2 {
		t.Fatalf("expected to stop after failing chunk, got %d calls", calls.Load())
	}
}

func TestSynthesizeZeroChunks(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:0/unused")
	clip, err := client.Synthesize(context.Background(), nil, testProfile())
	if err != nil {
		t.Fatalf("zero chunks should succeed: %v", err)
	}
	if !clip.Empty() {
		t.Fatal("expected empty clip for zero chunks")
	}
}

func TestSynthesizeMalformedAudio(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("definitely not wav"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Synthesize(context.Background(), []string{"一。"}, testProfile())
	var decodeErr *audio.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}
