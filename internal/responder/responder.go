package responder

import "context"

type Responder interface {
	Reply(ctx context.Context, prompt string) (string, error)
}
