package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/voxcastlabs/voxcast-core/internal/audio"
	"github.com/voxcastlabs/voxcast-core/internal/config"
	"github.com/voxcastlabs/voxcast-core/internal/voice"
)

// ttsRequest is the JSON body the GPT-SoVITS style service expects. Field
// names and the fixed generation parameters follow the service's API contract.
type ttsRequest struct {
	Text              string   `json:"text"`
	TextLang          string   `json:"text_lang"`
	RefAudioPath      string   `json:"ref_audio_path"`
	AuxRefAudioPaths  []string `json:"aux_ref_audio_paths"`
	PromptLang        string   `json:"prompt_lang"`
	PromptText        string   `json:"prompt_text"`
	TopK              int      `json:"top_k"`
	TopP              float64  `json:"top_p"`
	Temperature       float64  `json:"temperature"`
	TextSplitMethod   string   `json:"text_split_method"`
	BatchSize         int      `json:"batch_size"`
	BatchThreshold    float64  `json:"batch_threshold"`
	SplitBucket       bool     `json:"split_bucket"`
	SpeedFactor       float64  `json:"speed_factor"`
	FragmentInterval  float64  `json:"fragment_interval"`
	Seed              int      `json:"seed"`
	MediaType         string   `json:"media_type"`
	StreamingMode     bool     `json:"streaming_mode"`
	ParallelInfer     bool     `json:"parallel_infer"`
	RepetitionPenalty float64  `json:"repetition_penalty"`
	SampleSteps       int      `json:"sample_steps"`
	SuperSampling     bool     `json:"super_sampling"`
}

// Client calls the synthesis HTTP service one chunk at a time and
// concatenates the decoded responses into a single clip.
type Client struct {
	cfg       config.SynthConfig
	sampleDir string
	http      *http.Client
	pool      *audio.DecodePool
	log       *slog.Logger
}

func NewClient(cfg config.SynthConfig, sampleDir string, pool *audio.DecodePool, log *slog.Logger) *Client {
	return &Client{
		cfg:       cfg,
		sampleDir: sampleDir,
		http:      &http.Client{},
		pool:      pool,
		log:       log.With(slog.String("component", "synth-client")),
	}
}

// Synthesize renders chunks sequentially. Any non-200 response or malformed
// clip fails the utterance; clips already decoded are discarded. Zero chunks
// return an empty clip so callers treat "nothing to say" uniformly.
func (c *Client) Synthesize(ctx context.Context, chunks []string, profile voice.Profile) (audio.Clip, error) {
	if len(chunks) == 0 {
		return audio.Clip{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.TimeoutSec)*time.Second)
	defer cancel()

	samplePath := filepath.ToSlash(filepath.Join(c.sampleDir, profile.SampleFile))

	clips := make([]audio.Clip, 0, len(chunks))
	for _, chunk := range chunks {
		c.log.Info("sending synthesis request", slog.String("chunk", chunk))
		data, err := c.synthesizeChunk(ctx, chunk, samplePath, profile.SampleText)
		if err != nil {
			return audio.Clip{}, err
		}
		clip, err := c.pool.Decode(ctx, data)
		if err != nil {
			return audio.Clip{}, err
		}
		clips = append(clips, clip)
	}

	combined, err := audio.Concat(clips...)
	if err != nil {
		return audio.Clip{}, err
	}
	return combined, nil
}

func (c *Client) synthesizeChunk(ctx context.Context, text, samplePath, promptText string) ([]byte, error) {
	payload := ttsRequest{
		Text:              text,
		TextLang:          c.cfg.Language,
		RefAudioPath:      samplePath,
		AuxRefAudioPaths:  []string{samplePath},
		PromptLang:        c.cfg.Language,
		PromptText:        promptText,
		TopK:              c.cfg.TopK,
		TopP:              c.cfg.TopP,
		Temperature:       c.cfg.Temperature,
		TextSplitMethod:   "cut5",
		BatchSize:         c.cfg.BatchSize,
		BatchThreshold:    0.75,
		SplitBucket:       true,
		SpeedFactor:       c.cfg.SpeedFactor,
		FragmentInterval:  0.3,
		Seed:              c.cfg.Seed,
		MediaType:         "wav",
		StreamingMode:     false,
		ParallelInfer:     true,
		RepetitionPenalty: c.cfg.RepetitionPenalty,
		SampleSteps:       c.cfg.SampleSteps,
		SuperSampling:     false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Error("synthesis request failed",
			slog.Int("status", resp.StatusCode),
			slog.String("detail", string(detail)))
		return nil, &SynthesisError{Status: resp.StatusCode, Detail: string(detail)}
	}

	return io.ReadAll(resp.Body)
}
