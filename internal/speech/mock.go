package speech

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const mockSampleRate = 22050

type mockSynthesizer struct {
	delay time.Duration
}

// NewMockSynthesizer writes a short silent WAV file for every request.
// The output is a real, decodable file so downstream probing behaves
// exactly as it does with a live engine.
func NewMockSynthesizer() Synthesizer {
	return &mockSynthesizer{delay: 10 * time.Millisecond}
}

func (m *mockSynthesizer) Synthesize(ctx context.Context, text, outPath string) error {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}
	return WriteSilenceWAV(outPath, mockSampleRate, 100*time.Millisecond)
}

// WriteSilenceWAV encodes a mono 16-bit silent WAV of the given length.
func WriteSilenceWAV(path string, sampleRate int, d time.Duration) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer f.Close()

	samples := int(float64(sampleRate) * d.Seconds())
	if samples < 1 {
		samples = 1
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, samples),
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// MockPlayer records every path it plays. Useful both as the playback
// backend in mock mode and as a probe in tests.
type MockPlayer struct {
	Delay time.Duration
	Err   error

	mu     sync.Mutex
	played []string
}

func NewMockPlayer() *MockPlayer { return &MockPlayer{Delay: 10 * time.Millisecond} }

func (p *MockPlayer) Play(ctx context.Context, path string) error {
	if p.Delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay):
		}
	}
	p.mu.Lock()
	p.played = append(p.played, path)
	p.mu.Unlock()
	return p.Err
}

// Played returns a copy of the playback history in order.
func (p *MockPlayer) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.played))
	copy(out, p.played)
	return out
}
