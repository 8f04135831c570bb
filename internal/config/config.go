package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// SynthConfig drives the GPT-SoVITS style synthesis HTTP client.
type SynthConfig struct {
	Mode              string  `yaml:"mode"` // mock, http
	Endpoint          string  `yaml:"endpoint"`
	Language          string  `yaml:"language"`
	TimeoutSec        int     `yaml:"timeout_sec"`
	MaxRunLength      int     `yaml:"max_run_length"`
	ChunkSentences    int     `yaml:"chunk_sentences"`
	DecodeWorkers     int     `yaml:"decode_workers"`
	TopK              int     `yaml:"top_k"`
	TopP              float64 `yaml:"top_p"`
	Temperature       float64 `yaml:"temperature"`
	SpeedFactor       float64 `yaml:"speed_factor"`
	Seed              int     `yaml:"seed"`
	BatchSize         int     `yaml:"batch_size"`
	SampleSteps       int     `yaml:"sample_steps"`
	RepetitionPenalty float64 `yaml:"repetition_penalty"`
}

type VoicesConfig struct {
	CatalogPath   string `yaml:"catalog_path"`
	OverridesPath string `yaml:"overrides_path"`
	SampleDir     string `yaml:"sample_dir"`
	DefaultVoice  string `yaml:"default_voice"`
}

type PlaybackConfig struct {
	Mode             string `yaml:"mode"` // mock, exec, oto
	PlayerCommand    string `yaml:"player_command"`
	ItemPauseMS      int    `yaml:"item_pause_ms"`
	ConnectTimeoutMS int    `yaml:"connect_timeout_ms"`
	IdleCheckSec     int    `yaml:"idle_check_sec"`
	SampleRate       int    `yaml:"sample_rate"`
	Channels         int    `yaml:"channels"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxUtterances int    `yaml:"max_utterances"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type SpeakerConfig struct {
	Enabled      bool `yaml:"enabled"`
	MaxAttempts  int  `yaml:"max_attempts"`
	RetryDelayMS int  `yaml:"retry_delay_ms"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Synth       SynthConfig     `yaml:"synth"`
	Voices      VoicesConfig    `yaml:"voices"`
	Playback    PlaybackConfig  `yaml:"playback"`
	Store       StoreConfig     `yaml:"store"`
	Speaker     SpeakerConfig   `yaml:"speaker"`
}

func Default() Config {
	return Config{
		RuntimeName: "voxcast-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Synth: SynthConfig{
			Mode:              "http",
			Endpoint:          "http://127.0.0.1:9880/",
			Language:          "zh",
			TimeoutSec:        1200,
			MaxRunLength:      200,
			ChunkSentences:    2,
			DecodeWorkers:     4,
			TopK:              5,
			TopP:              1,
			Temperature:       1,
			SpeedFactor:       1,
			Seed:              -1,
			BatchSize:         1,
			SampleSteps:       32,
			RepetitionPenalty: 1.35,
		},
		Voices: VoicesConfig{
			CatalogPath:   "./data/voices.json",
			OverridesPath: "./data/user_voices.json",
			SampleDir:     "./data/samples",
			DefaultVoice:  "default",
		},
		Playback: PlaybackConfig{
			Mode:             "mock",
			ItemPauseMS:      1000,
			ConnectTimeoutMS: 20000,
			IdleCheckSec:     180,
			SampleRate:       44100,
			Channels:         1,
		},
		Store: StoreConfig{
			Path:          "./data/voxcast.db",
			RetentionDays: 30,
			MaxUtterances: 10000,
		},
		Speaker: SpeakerConfig{
			Enabled:      true,
			MaxAttempts:  3,
			RetryDelayMS: 2000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VOXCAST_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOXCAST_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOXCAST_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOXCAST_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOXCAST_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOXCAST_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOXCAST_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "VOXCAST_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOXCAST_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOXCAST_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOXCAST_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOXCAST_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOXCAST_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOXCAST_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOXCAST_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Synth.Mode, "VOXCAST_SYNTH_MODE")
	overrideString(&cfg.Synth.Endpoint, "VOXCAST_SYNTH_ENDPOINT")
	overrideString(&cfg.Synth.Language, "VOXCAST_SYNTH_LANGUAGE")
	overrideInt(&cfg.Synth.TimeoutSec, "VOXCAST_SYNTH_TIMEOUT_SEC")
	overrideInt(&cfg.Synth.MaxRunLength, "VOXCAST_SYNTH_MAX_RUN_LENGTH")
	overrideInt(&cfg.Synth.ChunkSentences, "VOXCAST_SYNTH_CHUNK_SENTENCES")
	overrideInt(&cfg.Synth.DecodeWorkers, "VOXCAST_SYNTH_DECODE_WORKERS")
	overrideFloat(&cfg.Synth.SpeedFactor, "VOXCAST_SYNTH_SPEED_FACTOR")
	overrideString(&cfg.Voices.CatalogPath, "VOXCAST_VOICES_CATALOG_PATH")
	overrideString(&cfg.Voices.OverridesPath, "VOXCAST_VOICES_OVERRIDES_PATH")
	overrideString(&cfg.Voices.SampleDir, "VOXCAST_VOICES_SAMPLE_DIR")
	overrideString(&cfg.Voices.DefaultVoice, "VOXCAST_VOICES_DEFAULT_VOICE")
	overrideString(&cfg.Playback.Mode, "VOXCAST_PLAYBACK_MODE")
	overrideString(&cfg.Playback.PlayerCommand, "VOXCAST_PLAYBACK_PLAYER_COMMAND")
	overrideInt(&cfg.Playback.ItemPauseMS, "VOXCAST_PLAYBACK_ITEM_PAUSE_MS")
	overrideInt(&cfg.Playback.ConnectTimeoutMS, "VOXCAST_PLAYBACK_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Playback.IdleCheckSec, "VOXCAST_PLAYBACK_IDLE_CHECK_SEC")
	overrideInt(&cfg.Playback.SampleRate, "VOXCAST_PLAYBACK_SAMPLE_RATE")
	overrideInt(&cfg.Playback.Channels, "VOXCAST_PLAYBACK_CHANNELS")
	overrideString(&cfg.Store.Path, "VOXCAST_STORE_PATH")
	overrideInt(&cfg.Store.RetentionDays, "VOXCAST_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxUtterances, "VOXCAST_STORE_MAX_UTTERANCES")
	overrideBool(&cfg.Store.VacuumOnStart, "VOXCAST_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Speaker.Enabled, "VOXCAST_SPEAKER_ENABLED")
	overrideInt(&cfg.Speaker.MaxAttempts, "VOXCAST_SPEAKER_MAX_ATTEMPTS")
	overrideInt(&cfg.Speaker.RetryDelayMS, "VOXCAST_SPEAKER_RETRY_DELAY_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Synth.Mode {
	case "mock", "http":
	default:
		return errors.New("synth.mode must be one of mock|http")
	}
	if cfg.Synth.Mode == "http" && cfg.Synth.Endpoint == "" {
		return errors.New("synth.endpoint must not be empty when mode=http")
	}
	if cfg.Synth.TimeoutSec <= 0 {
		return errors.New("synth.timeout_sec must be positive")
	}
	if cfg.Synth.MaxRunLength <= 0 {
		return errors.New("synth.max_run_length must be positive")
	}
	if cfg.Synth.ChunkSentences <= 0 {
		return errors.New("synth.chunk_sentences must be positive")
	}
	if cfg.Synth.DecodeWorkers <= 0 {
		return errors.New("synth.decode_workers must be >= 1")
	}
	if cfg.Voices.CatalogPath == "" {
		return errors.New("voices.catalog_path must not be empty")
	}
	if cfg.Voices.DefaultVoice == "" {
		return errors.New("voices.default_voice must not be empty")
	}
	switch cfg.Playback.Mode {
	case "mock", "exec", "oto":
	default:
		return errors.New("playback.mode must be one of mock|exec|oto")
	}
	if cfg.Playback.Mode == "exec" && cfg.Playback.PlayerCommand == "" {
		return errors.New("playback.player_command must be set when mode=exec")
	}
	if cfg.Playback.SampleRate <= 0 {
		return errors.New("playback.sample_rate must be positive")
	}
	if cfg.Playback.Channels <= 0 {
		return errors.New("playback.channels must be positive")
	}
	if cfg.Playback.ItemPauseMS < 0 {
		return errors.New("playback.item_pause_ms must be >= 0")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	if cfg.Speaker.Enabled {
		if cfg.Speaker.MaxAttempts <= 0 {
			return errors.New("speaker.max_attempts must be >= 1")
		}
		if cfg.Speaker.RetryDelayMS < 0 {
			return errors.New("speaker.retry_delay_ms must be >= 0")
		}
	}
	return nil
}
