// Package encoder invokes the external ffmpeg binary to produce renditions.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/mediaforge/transcoder/internal/core"
)

// Options configure the ffmpeg encoder.
type Options struct {
	// Binary is the ffmpeg executable. Defaults to "ffmpeg" on PATH.
	Binary string
	// Timeout bounds a single encode invocation. Zero means no bound beyond
	// the caller's context.
	Timeout time.Duration
	// ExtraArgs are appended to every invocation, before the output path.
	ExtraArgs []string
	Logger    *slog.Logger
}

// FFmpeg implements core.Encoder by shelling out to ffmpeg.
type FFmpeg struct {
	binary    string
	timeout   time.Duration
	extraArgs []string
	logger    *slog.Logger
}

// NewFFmpeg creates an ffmpeg-backed encoder.
func NewFFmpeg(opts Options) *FFmpeg {
	binary := opts.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{
		binary:    binary,
		timeout:   opts.Timeout,
		extraArgs: opts.ExtraArgs,
		logger:    logger.With("component", "ffmpeg_encoder"),
	}
}

// Encode transcodes the input file into one rendition. The command inherits
// the caller's context so an abort kills the process.
func (f *FFmpeg) Encode(ctx context.Context, req core.EncodeRequest) error {
	if err := req.Profile.Validate(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	args := f.buildArgs(req)
	cmd := exec.CommandContext(ctx, f.binary, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	started := time.Now()
	f.logger.InfoContext(ctx, "starting encode",
		"profile", req.Profile.Name,
		"resolution", req.Profile.Resolution,
		"output", req.OutputPath,
	)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("encode %s aborted: %w", req.Profile.Name, ctx.Err())
		}
		return fmt.Errorf("ffmpeg %s failed: %w: %s", req.Profile.Name, err, tail(stderr.String(), 512))
	}

	f.logger.InfoContext(ctx, "encode finished",
		"profile", req.Profile.Name,
		"duration", time.Since(started).String(),
	)
	return nil
}

func (f *FFmpeg) buildArgs(req core.EncodeRequest) []string {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", req.InputPath,
		"-vf", fmt.Sprintf("scale=%s", scaleFilter(req.Profile.Resolution)),
		"-b:v", fmt.Sprintf("%dk", req.Profile.Bitrate),
		"-c:v", "libx264",
		"-preset", "medium",
		"-c:a", "aac",
		"-movflags", "+faststart",
	}
	args = append(args, f.extraArgs...)
	return append(args, req.OutputPath)
}

// scaleFilter converts "854x480" into the "854:480" form ffmpeg's scale
// filter expects. Unrecognized input is passed through for ffmpeg to reject.
func scaleFilter(resolution string) string {
	return strings.ReplaceAll(resolution, "x", ":")
}

// tail returns at most the last n bytes of s, for error messages.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
