// Package audio holds decoded clips and WAV codec helpers shared by the
// synthesis client and the playback queue.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const bitDepth = 16

// Clip is an immutable buffer of decoded 16-bit PCM audio.
type Clip struct {
	samples    []int
	sampleRate int
	channels   int
}

// DecodeError reports malformed audio bytes from the synthesis service.
type DecodeError struct {
	Detail string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode audio: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("decode audio: %s", e.Detail)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeWAV parses WAV bytes into a Clip.
func DecodeWAV(data []byte) (Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Clip{}, &DecodeError{Detail: "not a valid wav stream"}
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, &DecodeError{Detail: "read pcm", Err: err}
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 || buf.Format.NumChannels <= 0 {
		return Clip{}, &DecodeError{Detail: "missing format header"}
	}
	return Clip{
		samples:    buf.Data,
		sampleRate: buf.Format.SampleRate,
		channels:   buf.Format.NumChannels,
	}, nil
}

// Empty reports whether the clip carries no samples.
func (c Clip) Empty() bool { return len(c.samples) == 0 }

func (c Clip) SampleRate() int { return c.sampleRate }

func (c Clip) Channels() int { return c.channels }

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.sampleRate <= 0 || c.channels <= 0 {
		return 0
	}
	frames := len(c.samples) / c.channels
	return time.Duration(frames) * time.Second / time.Duration(c.sampleRate)
}

// PCMBytes returns the samples as little-endian signed 16-bit bytes.
func (c Clip) PCMBytes() []byte {
	out := make([]byte, len(c.samples)*2)
	for i, s := range c.samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}

// Concat joins clips in order into a new Clip. Inputs are not mutated. Empty
// clips are skipped; all non-empty clips must share one sample format.
func Concat(clips ...Clip) (Clip, error) {
	var total int
	var rate, channels int
	for _, c := range clips {
		if c.Empty() {
			continue
		}
		if rate == 0 {
			rate = c.sampleRate
			channels = c.channels
		} else if c.sampleRate != rate || c.channels != channels {
			return Clip{}, fmt.Errorf("concat clips: format mismatch (%d/%dch vs %d/%dch)",
				rate, channels, c.sampleRate, c.channels)
		}
		total += len(c.samples)
	}
	if total == 0 {
		return Clip{}, nil
	}
	samples := make([]int, 0, total)
	for _, c := range clips {
		samples = append(samples, c.samples...)
	}
	return Clip{samples: samples, sampleRate: rate, channels: channels}, nil
}

// WriteWAVFile encodes the clip as a WAV file at path.
func WriteWAVFile(path string, c Clip) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}
	enc := wav.NewEncoder(file, c.sampleRate, bitDepth, c.channels, 1)
	buf := &gaudio.IntBuffer{
		Format: &gaudio.Format{NumChannels: c.channels, SampleRate: c.sampleRate},
		Data:   c.samples,
	}
	if err := enc.Write(buf); err != nil {
		file.Close()
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		file.Close()
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return file.Close()
}

// FromPCM builds a clip from raw samples. Used by tests and mock synthesizers.
func FromPCM(samples []int, sampleRate, channels int) Clip {
	copied := append([]int(nil), samples...)
	return Clip{samples: copied, sampleRate: sampleRate, channels: channels}
}
