package transcriber

import "context"

type AudioFormat string

const (
	FormatWAV AudioFormat = "wav"
)

type Transcriber interface {
	// Transcribe returns the recognized text of one complete utterance.
	Transcribe(ctx context.Context, audio []byte, format AudioFormat) (string, error)
}
