package audio

import (
	"iter"
	"log/slog"
)

// Decoder turns one compressed voice frame into one PCM chunk.
// A Decoder keeps per-stream state and must not be shared between speakers.
type Decoder interface {
	Decode(frame []byte) ([]byte, error)
}

type DecoderFactory func() (Decoder, error)

// DecodeErrorFunc is invoked for every frame that fails to decode.
type DecodeErrorFunc func(err error)

// DecodeFrames lazily maps frames to PCM chunks in order. Frames that fail to
// decode are skipped and reported to onError; the sequence keeps going.
func DecodeFrames(dec Decoder, frames iter.Seq[[]byte], onError DecodeErrorFunc) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for frame := range frames {
			if len(frame) == 0 {
				continue
			}
			pcm, err := dec.Decode(frame)
			if err != nil {
				slog.Debug("skipping undecodable voice frame", "frame_bytes", len(frame), "error", err)
				if onError != nil {
					onError(err)
				}
				continue
			}
			if len(pcm) == 0 {
				continue
			}
			if !yield(pcm) {
				return
			}
		}
	}
}
