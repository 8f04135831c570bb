package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Synth.Endpoint != "http://127.0.0.1:9880/" {
		t.Fatalf("expected default synth endpoint, got %q", cfg.Synth.Endpoint)
	}
	if cfg.Synth.ChunkSentences != 2 {
		t.Fatalf("expected default chunk size 2, got %d", cfg.Synth.ChunkSentences)
	}
	if cfg.Playback.Mode != "mock" {
		t.Fatalf("expected default playback mode mock, got %q", cfg.Playback.Mode)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOXCAST_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("VOXCAST_BUS_USERNAME", "alice")
	t.Setenv("VOXCAST_BUS_PASSWORD", "secret")
	t.Setenv("VOXCAST_SYNTH_ENDPOINT", "http://tts.local:9880/")
	t.Setenv("VOXCAST_SYNTH_MAX_RUN_LENGTH", "120")
	t.Setenv("VOXCAST_SYNTH_CHUNK_SENTENCES", "3")
	t.Setenv("VOXCAST_VOICES_DEFAULT_VOICE", "narrator")
	t.Setenv("VOXCAST_PLAYBACK_MODE", "exec")
	t.Setenv("VOXCAST_PLAYBACK_PLAYER_COMMAND", "ffplay -nodisp -autoexit -loglevel error")
	t.Setenv("VOXCAST_PLAYBACK_ITEM_PAUSE_MS", "500")
	t.Setenv("VOXCAST_STORE_PATH", "./tmp.db")
	t.Setenv("VOXCAST_STORE_RETENTION_DAYS", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Synth.Endpoint != "http://tts.local:9880/" {
		t.Fatalf("expected synth endpoint override, got %q", cfg.Synth.Endpoint)
	}
	if cfg.Synth.MaxRunLength != 120 {
		t.Fatalf("expected max run length override, got %d", cfg.Synth.MaxRunLength)
	}
	if cfg.Synth.ChunkSentences != 3 {
		t.Fatalf("expected chunk sentences override, got %d", cfg.Synth.ChunkSentences)
	}
	if cfg.Voices.DefaultVoice != "narrator" {
		t.Fatalf("expected default voice override, got %q", cfg.Voices.DefaultVoice)
	}
	if cfg.Playback.Mode != "exec" {
		t.Fatalf("expected playback mode override, got %q", cfg.Playback.Mode)
	}
	if cfg.Playback.ItemPauseMS != 500 {
		t.Fatalf("expected item pause override, got %d", cfg.Playback.ItemPauseMS)
	}
	if cfg.Store.Path != "./tmp.db" {
		t.Fatalf("expected store path override")
	}
	if cfg.Store.RetentionDays != 7 {
		t.Fatalf("expected store retention days override")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voxcast.yaml")
	body := []byte(`
runtime_name: voxcast-test
synth:
  endpoint: http://127.0.0.1:9880/tts
  language: zh
playback:
  mode: mock
  item_pause_ms: 0
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "voxcast-test" {
		t.Fatalf("expected runtime name from file, got %q", cfg.RuntimeName)
	}
	if cfg.Synth.Endpoint != "http://127.0.0.1:9880/tts" {
		t.Fatalf("expected synth endpoint from file, got %q", cfg.Synth.Endpoint)
	}
	if cfg.Playback.ItemPauseMS != 0 {
		t.Fatalf("expected item pause from file, got %d", cfg.Playback.ItemPauseMS)
	}
}

func TestValidateRejectsBadPlaybackMode(t *testing.T) {
	t.Setenv("VOXCAST_PLAYBACK_MODE", "tape")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for unknown playback mode")
	}
}

func TestValidateExecRequiresCommand(t *testing.T) {
	t.Setenv("VOXCAST_PLAYBACK_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error when exec mode has no player command")
	}
}
