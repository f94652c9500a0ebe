// Package mux combines separately downloaded audio and video streams into a single container file.
package mux

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/alessio/shellescape"
	"go.uber.org/zap"
)

var (
	ErrNoFFmpeg = errors.New("ffmpeg not found")
)

// A Job describes one mux: the video track of VideoPath is combined with the audio track of AudioPath into
// OutputPath.
type Job struct {
	VideoPath  string
	AudioPath  string
	OutputPath string
}

type loggerKey struct{}

// WithLogger returns a copy of ctx carrying the logger Mux implementations should log to.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the logger attached by WithLogger, or the global zap logger.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return zap.L()
}

type Muxer interface {
	Mux(ctx context.Context, job Job) error
}

// FFmpeg muxes by running an ffmpeg binary, copying streams without re-encoding.
type FFmpeg struct {
	Path string
}

func NewFFmpeg(path string) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{Path: path}
}

// Args returns the ffmpeg arguments for job. Any audio in the video input is dropped in favour of the audio input,
// and an existing output file is overwritten.
func (f *FFmpeg) Args(job Job) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-y",
		"-i", job.VideoPath,
		"-i", job.AudioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c", "copy",
		"-movflags", "+faststart",
		job.OutputPath,
	}
}

func (f *FFmpeg) Mux(ctx context.Context, job Job) error {
	args := f.Args(job)
	Logger(ctx).Named("mux").Sugar().Debugf("Muxing with command: %s", shellescape.QuoteCommand(append([]string{f.Path}, args...)))
	if _, err := exec.LookPath(f.Path); err != nil {
		return fmt.Errorf("%w: %v", ErrNoFFmpeg, err)
	}
	output, err := exec.CommandContext(ctx, f.Path, args...).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(output)); msg != "" {
			return fmt.Errorf("ffmpeg failed: %w: %s", err, msg)
		}
		return fmt.Errorf("ffmpeg failed: %w", err)
	}
	return nil
}
