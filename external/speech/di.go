package speech

import (
	"github.com/foxseedlab/rokuon/internal/config"
	"github.com/foxseedlab/rokuon/internal/speech"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (speech.Synthesizer, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewOpenAISynthesizer(OpenAIConfig{
			APIKey:  c.EffectiveSpeechAPIKey(),
			BaseURL: c.SpeechBaseURL,
			Model:   c.SpeechModel,
			Voice:   c.SpeechVoice,
		}), nil
	})
}
