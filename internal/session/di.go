package session

import (
	"github.com/foxseedlab/rokuon/internal/audio"
	"github.com/foxseedlab/rokuon/internal/config"
	"github.com/foxseedlab/rokuon/internal/discord"
	"github.com/foxseedlab/rokuon/internal/metrics"
	"github.com/foxseedlab/rokuon/internal/recording"
	"github.com/foxseedlab/rokuon/internal/repository"
	"github.com/foxseedlab/rokuon/internal/responder"
	"github.com/foxseedlab/rokuon/internal/speech"
	"github.com/foxseedlab/rokuon/internal/storage"
	"github.com/foxseedlab/rokuon/internal/transcode"
	"github.com/foxseedlab/rokuon/internal/transcriber"
	"github.com/foxseedlab/rokuon/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*recording.Processor, error) {
		cfg := do.MustInvoke[*config.Config](i)
		dc := do.MustInvoke[discord.Client](i)
		wh := do.MustInvoke[webhook.Sender](i)
		return recording.NewProcessor(
			do.MustInvoke[transcode.Transcoder](i),
			do.MustInvoke[storage.ArtifactStore](i),
			do.MustInvoke[repository.RecordingLog](i),
			NewRecordingNotifier(dc, wh),
			do.MustInvoke[*metrics.Metrics](i),
			recording.ProcessorConfig{
				Dir:              cfg.RecordingsDir,
				MinBytes:         cfg.RecordingMinBytes,
				TranscodeTimeout: cfg.TranscodeTimeout,
				UploadTimeout:    cfg.UploadTimeout,
			},
		), nil
	})
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		return NewManager(
			do.MustInvoke[*config.Config](i),
			do.MustInvoke[discord.Client](i),
			do.MustInvoke[audio.DecoderFactory](i),
			do.MustInvoke[*recording.Processor](i),
			do.MustInvoke[transcriber.Transcriber](i),
			do.MustInvoke[responder.Responder](i),
			do.MustInvoke[speech.Synthesizer](i),
			do.MustInvoke[*metrics.Metrics](i),
		), nil
	})
}
