// Package media shells out to ffmpeg for the server's pre-analysis pipeline:
// browser recordings arrive as WebM, the producer upload wants MP4.
package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fermata-app/fermata/internal/logging"
)

// Options selects the binaries; empty fields fall back to PATH lookups.
type Options struct {
	FFmpeg  string
	FFprobe string
}

// Converter runs ffmpeg/ffprobe as subprocesses.
type Converter struct {
	opts Options
	log  *logging.Logger
}

// NewConverter creates a converter.
func NewConverter(opts Options, log *logging.Logger) *Converter {
	if opts.FFmpeg == "" {
		opts.FFmpeg = "ffmpeg"
	}
	if opts.FFprobe == "" {
		opts.FFprobe = "ffprobe"
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Converter{opts: opts, log: log.Sub("media")}
}

// NeedsConversion reports whether a file must be transcoded before the
// producer upload.
func NeedsConversion(path string) bool {
	return !strings.EqualFold(filepath.Ext(path), ".mp4")
}

// ConvertToMP4 transcodes a recording to H.264/AAC MP4, overwriting any
// existing output file.
func (c *Converter) ConvertToMP4(ctx context.Context, inputPath, outputPath string) error {
	if _, err := os.Stat(inputPath); err != nil {
		return fmt.Errorf("input video: %w", err)
	}

	args := []string{"-i", inputPath, "-c:v", "libx264", "-c:a", "aac", "-y", outputPath}
	c.log.Debug().Str("input", inputPath).Str("output", outputPath).Msg("converting video")

	start := time.Now()
	cmd := exec.CommandContext(ctx, c.opts.FFmpeg, args...)
	if _, err := cmd.Output(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("%s exited %d: %s", c.opts.FFmpeg, exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return fmt.Errorf("%s: %w", c.opts.FFmpeg, err)
	}

	c.log.Info().Str("output", outputPath).Dur("took", time.Since(start)).Msg("conversion done")
	return nil
}

// EnsureMP4 returns an MP4 path for a video, converting next to the input
// when needed. The cleanup func removes the converted copy; it is a no-op
// when the input was already MP4.
func (c *Converter) EnsureMP4(ctx context.Context, path string) (string, func(), error) {
	if !NeedsConversion(path) {
		return path, func() {}, nil
	}
	out := strings.TrimSuffix(path, filepath.Ext(path)) + ".mp4"
	if err := c.ConvertToMP4(ctx, path, out); err != nil {
		return "", nil, err
	}
	return out, func() { os.Remove(out) }, nil
}

// Duration probes a video's length.
func (c *Converter) Duration(ctx context.Context, path string) (time.Duration, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("probe video: %w", err)
	}

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	cmd := exec.CommandContext(ctx, c.opts.FFprobe, args...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return 0, fmt.Errorf("%s exited %d: %s", c.opts.FFprobe, exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return 0, fmt.Errorf("%s: %w", c.opts.FFprobe, err)
	}

	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing ffprobe duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
