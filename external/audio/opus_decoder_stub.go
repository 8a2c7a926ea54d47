//go:build !opus

package audio

import (
	"errors"

	"github.com/foxseedlab/rokuon/internal/audio"
)

var errOpusUnavailable = errors.New("opus support is not compiled in; build with -tags opus")

type unavailableDecoder struct{}

func NewOpusDecoder() (audio.Decoder, error) {
	return &unavailableDecoder{}, nil
}

func (d *unavailableDecoder) Decode(_ []byte) ([]byte, error) {
	return nil, errOpusUnavailable
}
