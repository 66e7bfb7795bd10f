// Package speech holds the synthesis and playback collaborator
// contracts plus their exec and mock backends.
package speech

import (
	"context"

	"github.com/mgalpert/whisperpocket/internal/config"
)

// Synthesizer renders one chunk of text to an audio file at outPath.
// On success a playable file exists at outPath; failure is signaled by
// an error (including the output file never appearing).
type Synthesizer interface {
	Synthesize(ctx context.Context, text, outPath string) error
}

// Player plays an audio file to completion, blocking the caller.
// Cancelling the context terminates in-progress playback.
type Player interface {
	Play(ctx context.Context, path string) error
}

// NewSynthesizer builds the backend selected by cfg.Mode.
func NewSynthesizer(cfg config.SynthConfig) (Synthesizer, error) {
	if cfg.Mode == "exec" {
		return NewExecSynthesizer(cfg.Command)
	}
	return NewMockSynthesizer(), nil
}

// NewPlayer builds the backend selected by cfg.Mode.
func NewPlayer(cfg config.PlaybackConfig) (Player, error) {
	if cfg.Mode == "exec" {
		return NewExecPlayer(cfg.Command)
	}
	return NewMockPlayer(), nil
}
