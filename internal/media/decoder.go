// Package media decodes arbitrary compressed audio files into the canonical
// [audio.Waveform] representation.
//
// WAV input is decoded in-process. Everything else is handed to an external
// ffmpeg binary which converts it to 16-bit PCM WAV on a pipe; no temporary
// files are written. Decoding runs once per input file and is the only
// blocking step of the pipeline that is not parallelised.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/voxsplit/voxsplit/pkg/audio"
)

// EnvironmentError reports that the decoding facility itself is unavailable
// (as opposed to the input being corrupt, which is a [audio.DecodeError]).
type EnvironmentError struct {
	Err error
}

func (e *EnvironmentError) Error() string {
	return "media: decoder unavailable: " + e.Err.Error()
}

func (e *EnvironmentError) Unwrap() error { return e.Err }

// Decoder converts raw file bytes into a Waveform.
type Decoder struct {
	ffmpegPath string
}

// Option is a functional option for configuring a Decoder.
type Option func(*Decoder)

// WithFFmpegPath overrides the ffmpeg binary used for compressed formats.
// Defaults to "ffmpeg" resolved via PATH.
func WithFFmpegPath(path string) Option {
	return func(d *Decoder) {
		d.ffmpegPath = path
	}
}

// NewDecoder creates a Decoder. The ffmpeg binary is resolved lazily on the
// first non-WAV input, so a missing binary does not prevent WAV-only use.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{ffmpegPath: "ffmpeg"}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Decode converts data into a Waveform. RIFF/WAVE input is parsed directly;
// any other format is piped through ffmpeg. Returns a [audio.DecodeError] for
// unsupported or corrupt input and an [EnvironmentError] when ffmpeg cannot
// be executed.
func (d *Decoder) Decode(ctx context.Context, data []byte) (*audio.Waveform, error) {
	if len(data) == 0 {
		return nil, &audio.DecodeError{Reason: "empty input"}
	}
	if audio.IsWAV(data) {
		w, err := audio.DecodeWAV(data)
		if err == nil {
			return w, nil
		}
		// Non-PCM WAV variants (float, ADPCM) fall through to ffmpeg.
		var de *audio.DecodeError
		if !errors.As(err, &de) {
			return nil, err
		}
	}
	return d.decodeWithFFmpeg(ctx, data)
}

// decodeWithFFmpeg runs ffmpeg reading the compressed input from stdin and
// writing 16-bit PCM WAV to stdout, then decodes that WAV in-process.
func (d *Decoder) decodeWithFFmpeg(ctx context.Context, data []byte) (*audio.Waveform, error) {
	path, err := exec.LookPath(d.ffmpegPath)
	if err != nil {
		return nil, &EnvironmentError{Err: fmt.Errorf("ffmpeg binary %q not found: %w", d.ffmpegPath, err)}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-acodec", "pcm_s16le",
		"-f", "wav",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var ee *exec.Error
		if errors.As(err, &ee) {
			return nil, &EnvironmentError{Err: err}
		}
		return nil, &audio.DecodeError{Reason: fmt.Sprintf("ffmpeg: %v: %s", err, lastLine(stderr.String()))}
	}
	return audio.DecodeWAV(stdout.Bytes())
}

// lastLine extracts the final non-empty line of ffmpeg's stderr, which
// usually carries the actual failure reason.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
