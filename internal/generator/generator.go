// Package generator produces the reply text for one utterance by
// delegating to an external text generator.
package generator

import (
	"context"

	"github.com/mgalpert/whisperpocket/internal/config"
)

// Generator turns input text into a reply. An empty reply with a nil
// error means the generator had nothing to say; callers treat process
// failures and empty output the same way.
type Generator interface {
	Generate(ctx context.Context, input string) (string, error)
}

// FromConfig builds the backend selected by cfg.Mode.
func FromConfig(cfg config.GeneratorConfig) (Generator, error) {
	switch cfg.Mode {
	case "exec":
		return NewExecGenerator(cfg.Command)
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model), nil
	default:
		return NewMockGenerator(), nil
	}
}
