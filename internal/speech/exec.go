package speech

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execSynthesizer struct {
	cmd []string
	mu  sync.Mutex
}

// NewExecSynthesizer wraps a command line invoked as
// `cmd ... <text> <outPath>`. The command must leave a playable file at
// outPath on success.
func NewExecSynthesizer(command string) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse synth command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synth command empty")
	}
	return &execSynthesizer{cmd: args}, nil
}

func (s *execSynthesizer) Synthesize(ctx context.Context, text, outPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.cmd[0]
	args := append([]string{}, s.cmd[1:]...)
	args = append(args, text, outPath)
	cmd := exec.CommandContext(ctx, base, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("synth command failed: %w: %s", err, stderr.String())
	}
	// Absence of the expected output file counts as failure even when
	// the process exited zero.
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("synth produced no output at %s: %w", outPath, err)
	}
	return nil
}

type execPlayer struct {
	cmd []string
}

// NewExecPlayer wraps a command line invoked as `cmd ... <path>` that
// plays the file to completion.
func NewExecPlayer(command string) (Player, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse playback command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("playback command empty")
	}
	return &execPlayer{cmd: args}, nil
}

func (p *execPlayer) Play(ctx context.Context, path string) error {
	base := p.cmd[0]
	args := append([]string{}, p.cmd[1:]...)
	args = append(args, path)
	// CommandContext kills the player when the context is cancelled,
	// which cuts in-progress audio immediately.
	if err := exec.CommandContext(ctx, base, args...).Run(); err != nil {
		return fmt.Errorf("playback command failed: %w", err)
	}
	return nil
}
