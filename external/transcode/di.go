package transcode

import (
	"github.com/foxseedlab/rokuon/internal/config"
	"github.com/foxseedlab/rokuon/internal/transcode"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (transcode.Transcoder, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewFFmpeg(c.FFmpegPath, c.TranscodeBitrate), nil
	})
}
