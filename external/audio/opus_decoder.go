//go:build opus

package audio

import (
	"fmt"

	"github.com/foxseedlab/rokuon/internal/audio"
	"github.com/hraban/opus"
)

// Discord may send frames up to 120 ms; size the buffer for the largest one.
const maxFrameSamples = audio.SampleRate * 120 / 1000

type OpusDecoder struct {
	dec *opus.Decoder
	pcm []int16
}

func NewOpusDecoder() (audio.Decoder, error) {
	dec, err := opus.NewDecoder(audio.SampleRate, audio.Channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &OpusDecoder{
		dec: dec,
		pcm: make([]int16, maxFrameSamples*audio.Channels),
	}, nil
}

func (d *OpusDecoder) Decode(frame []byte) ([]byte, error) {
	n, err := d.dec.Decode(frame, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("decode opus frame: %w", err)
	}
	return audio.SamplesToBytes(d.pcm[:n*audio.Channels]), nil
}
