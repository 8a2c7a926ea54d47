package responder

import (
	"github.com/foxseedlab/rokuon/internal/config"
	"github.com/foxseedlab/rokuon/internal/responder"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (responder.Responder, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewOpenAIResponder(OpenAIConfig{
			APIKey:       c.OpenAIAPIKey,
			BaseURL:      c.OpenAIBaseURL,
			Model:        c.ReplyModel,
			SystemPrompt: c.ReplySystemPrompt,
		}), nil
	})
}
