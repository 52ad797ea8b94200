package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
)

// ErrLLMUnavailable is returned when the language model gives no usable answer
var ErrLLMUnavailable = goerr.New("llm unavailable")

// LLM generates a free text completion for a prompt. It is optional
// everywhere: callers must keep working when it is nil.
type LLM interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
