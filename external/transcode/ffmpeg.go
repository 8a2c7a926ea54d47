package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/foxseedlab/rokuon/internal/audio"
	"github.com/foxseedlab/rokuon/internal/transcode"
)

const maxStderrBytes = 4096

// FFmpeg shells out to an ffmpeg binary to turn raw PCM into MP3.
type FFmpeg struct {
	path    string
	bitrate string
}

func NewFFmpeg(path, bitrate string) *FFmpeg {
	return &FFmpeg{path: path, bitrate: bitrate}
}

func (f *FFmpeg) args(rawPath, encodedPath string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", rawPath,
		"-b:a", f.bitrate,
		"-y", encodedPath,
	}
}

func (f *FFmpeg) Transcode(ctx context.Context, rawPath, encodedPath string) error {
	cmd := exec.CommandContext(ctx, f.path, f.args(rawPath, encodedPath)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	slog.Debug("starting ffmpeg transcode", "raw_path", rawPath, "encoded_path", encodedPath)
	err := cmd.Run()
	if err == nil {
		return nil
	}

	tail := stderr.String()
	if len(tail) > maxStderrBytes {
		tail = tail[len(tail)-maxStderrBytes:]
	}
	tail = strings.TrimSpace(tail)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return &transcode.TranscodeError{Stderr: tail, Err: fmt.Errorf("ffmpeg interrupted: %w", ctxErr)}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &transcode.TranscodeError{ExitCode: exitErr.ExitCode(), Stderr: tail, Err: fmt.Errorf("ffmpeg: %s", firstLine(tail))}
	}
	return &transcode.TranscodeError{Stderr: tail, Err: fmt.Errorf("run ffmpeg: %w", err)}
}

func firstLine(s string) string {
	if s == "" {
		return "no output"
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
