package generator

import (
	"context"
	"strings"
	"time"
)

type mockGenerator struct {
	reply string
	delay time.Duration
}

func NewMockGenerator() Generator { return &mockGenerator{delay: 20 * time.Millisecond} }

// NewFixedGenerator returns the given reply for every input.
func NewFixedGenerator(reply string) Generator { return &mockGenerator{reply: reply} }

func (m *mockGenerator) Generate(ctx context.Context, input string) (string, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.delay):
		}
	}
	if m.reply != "" {
		return m.reply, nil
	}
	return "[mock reply for " + strings.TrimSpace(input) + "]", nil
}
