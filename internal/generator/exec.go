package generator

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execGenerator struct {
	cmd []string
	mu  sync.Mutex
}

// NewExecGenerator wraps a command line that receives the input text as
// its final argument and writes the reply to stdout.
func NewExecGenerator(command string) (Generator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse generator command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("generator command empty")
	}
	return &execGenerator{cmd: args}, nil
}

func (g *execGenerator) Generate(ctx context.Context, input string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	base := g.cmd[0]
	args := append([]string{}, g.cmd[1:]...)
	args = append(args, input)
	cmd := exec.CommandContext(ctx, base, args...)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	// stderr is deliberately discarded: generator diagnostics are not
	// part of the reply and must not fail the run.
	runErr := cmd.Run()
	reply := strings.TrimSpace(stdout.String())
	if runErr != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("generator command failed: %w", ctx.Err())
		}
		// A non-zero exit with output still counts as a reply; the
		// exit status is diagnostic only.
		if reply == "" {
			return "", fmt.Errorf("generator command failed: %w", runErr)
		}
	}
	return reply, nil
}
