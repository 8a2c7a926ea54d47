package speech

import "context"

type Synthesizer interface {
	// Synthesize returns 48 kHz mono s16le PCM.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
