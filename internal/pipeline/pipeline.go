// Package pipeline schedules synthesis and playback for an ordered
// chunk sequence with a one-chunk synthesis lookahead.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/mgalpert/whisperpocket/internal/speech"
)

// State tracks a chunk through synthesis.
type State int

const (
	Pending State = iota
	Synthesizing
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Synthesizing:
		return "synthesizing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Chunk is one speakable unit: the unit of synthesis and playback.
// Index order is playback order.
type Chunk struct {
	Index     int
	Text      string
	AudioPath string
	State     State
	Duration  time.Duration
}

// Result summarizes one pipeline run.
type Result struct {
	Spoken  int
	Skipped []int // indices whose synthesis failed; playback skipped
}

type Pipeline struct {
	synth  speech.Synthesizer
	player speech.Player
	log    *slog.Logger
}

func New(synth speech.Synthesizer, player speech.Player, log *slog.Logger) *Pipeline {
	return &Pipeline{
		synth:  synth,
		player: player,
		log:    log.With(slog.String("component", "pipeline")),
	}
}

// task is the single-slot future for the lookahead synthesis. The
// scheduler holds at most one at a time and always waits on it before
// starting another.
type task struct {
	chunk *Chunk
	done  chan struct{}
}

func (p *Pipeline) begin(ctx context.Context, c *Chunk) *task {
	t := &task{chunk: c, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		p.synthesize(ctx, c)
	}()
	return t
}

func (t *task) wait() { <-t.done }

// Run speaks the chunk sequence in order. Synthesis of chunk i+1
// overlaps only with playback of chunk i; a chunk whose synthesis
// failed is skipped and the run continues. An empty sequence is a
// no-op.
func (p *Pipeline) Run(ctx context.Context, chunks []*Chunk) (Result, error) {
	var res Result
	if len(chunks) == 0 {
		return res, nil
	}

	// The pipeline cannot start without chunk 0's audio.
	p.synthesize(ctx, chunks[0])

	for i := 0; i < len(chunks); i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		c := chunks[i]

		// Playback of the current chunk is initiated before the
		// lookahead so synthesis of i+1 never runs ahead of it.
		var playDone chan error
		if c.State == Ready {
			playDone = make(chan error, 1)
			go func(path string) {
				playDone <- p.player.Play(ctx, path)
			}(c.AudioPath)
		} else {
			res.Skipped = append(res.Skipped, c.Index)
			p.log.Warn("skipping chunk without audio",
				slog.Int("chunk", c.Index),
				slog.String("state", c.State.String()))
		}

		var inflight *task
		if i+1 < len(chunks) {
			inflight = p.begin(ctx, chunks[i+1])
		}

		if playDone != nil {
			if err := <-playDone; err != nil {
				p.log.Warn("chunk playback failed",
					slog.Int("chunk", c.Index),
					slog.String("error", err.Error()))
			} else {
				res.Spoken++
			}
		}

		if inflight != nil {
			inflight.wait()
		}
	}
	return res, nil
}

// synthesize renders one chunk and validates the audio artifact. State
// lands in Ready or Failed; failures are absorbed here so the run can
// continue past them.
func (p *Pipeline) synthesize(ctx context.Context, c *Chunk) {
	c.State = Synthesizing
	start := time.Now()
	if err := p.synth.Synthesize(ctx, c.Text, c.AudioPath); err != nil {
		c.State = Failed
		p.log.Warn("chunk synthesis failed",
			slog.Int("chunk", c.Index),
			slog.String("error", err.Error()))
		return
	}
	dur, err := speech.ProbeWAV(c.AudioPath)
	if err != nil {
		c.State = Failed
		p.log.Warn("chunk audio artifact unusable",
			slog.Int("chunk", c.Index),
			slog.String("error", err.Error()))
		return
	}
	c.State = Ready
	c.Duration = dur
	p.log.Debug("chunk synthesized",
		slog.Int("chunk", c.Index),
		slog.Duration("audio", dur),
		slog.Duration("latency", time.Since(start)))
}
