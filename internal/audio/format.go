package audio

import "time"

// PCM produced by the decoder and consumed by every sink: 48 kHz, mono, s16le.
const (
	SampleRate     = 48000
	Channels       = 1
	BytesPerSample = 2
	FrameMillis    = 20
	FrameDuration  = FrameMillis * time.Millisecond
	FrameSamples   = SampleRate * FrameMillis / 1000
	FrameBytes     = FrameSamples * Channels * BytesPerSample
	BytesPerSecond = SampleRate * Channels * BytesPerSample
)

func PCMDuration(byteCount int64) time.Duration {
	if byteCount <= 0 {
		return 0
	}
	return time.Duration(byteCount) * time.Second / BytesPerSecond
}
