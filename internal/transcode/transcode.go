package transcode

import (
	"context"
	"fmt"
)

type Transcoder interface {
	// Transcode encodes raw 48 kHz mono s16le PCM at rawPath into encodedPath.
	Transcode(ctx context.Context, rawPath, encodedPath string) error
}

type TranscodeError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *TranscodeError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("transcode exited with code %d: %v", e.ExitCode, e.Err)
	}
	return fmt.Sprintf("transcode failed: %v", e.Err)
}

func (e *TranscodeError) Unwrap() error {
	return e.Err
}
