// Package encoder wraps the external ffmpeg binary that turns a numbered
// frame sequence into one export video.
package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/wb-go/wbf/zlog"
)

var commandContext = exec.CommandContext

// Encoder produces one MP4 from a directory of numbered same-size frames.
type Encoder interface {
	Encode(ctx context.Context, dir, inputPattern, output string) error
}

// Option configures the CLI encoder.
type Option func(*FFmpeg)

// WithBinary overrides the default ffmpeg binary.
func WithBinary(binary string) Option {
	return func(f *FFmpeg) {
		if binary != "" {
			f.binary = binary
		}
	}
}

// FFmpeg invokes ffmpeg as a synchronous subprocess. Frames play at one
// second each; output is H.264 yuv420p with BT.709 tags and the moov atom
// relocated to the file start for progressive playback.
type FFmpeg struct {
	binary string
}

// NewFFmpeg constructs the CLI encoder using defaults.
func NewFFmpeg(opts ...Option) *FFmpeg {
	f := &FFmpeg{binary: "ffmpeg"}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Encode runs ffmpeg in dir over the inputPattern frame sequence
// (e.g. "%04d.png") writing output there.
func (f *FFmpeg) Encode(ctx context.Context, dir, inputPattern, output string) error {
	args := []string{
		"-y",
		"-framerate", "1",
		"-i", inputPattern,
		"-c:v", "libx264",
		"-crf", "23",
		"-preset", "fast",
		"-tune", "stillimage",
		"-g", "1",
		"-profile:v", "baseline",
		"-pix_fmt", "yuv420p",
		"-sws_flags", "spline+accurate_rnd+full_chroma_int",
		"-vf", "colorspace=bt709:iall=bt601-6-625:fast=1",
		"-color_range", "1",
		"-colorspace", "1",
		"-color_primaries", "1",
		"-color_trc", "1",
		"-movflags", "faststart",
		output,
	}

	zlog.Logger.Debug().Str("dir", dir).Strs("args", args).Msg("running ffmpeg")

	cmd := commandContext(ctx, f.binary, args...)
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("ffmpeg encode failed: %w: %s", err, stderr.String())
		}
		return fmt.Errorf("ffmpeg encode failed: %w", err)
	}

	return nil
}

var _ Encoder = (*FFmpeg)(nil)
