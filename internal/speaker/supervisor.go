// Package speaker turns one input utterance into spoken audio: generate
// a reply, chunk it, and speak the chunks through the pipeline while
// keeping workspace lifetime and the ambient cue under control.
package speaker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mgalpert/whisperpocket/internal/ambient"
	"github.com/mgalpert/whisperpocket/internal/chunker"
	"github.com/mgalpert/whisperpocket/internal/config"
	"github.com/mgalpert/whisperpocket/internal/generator"
	"github.com/mgalpert/whisperpocket/internal/pipeline"
	"github.com/mgalpert/whisperpocket/internal/protocol"
	"github.com/mgalpert/whisperpocket/internal/speech"
	"github.com/mgalpert/whisperpocket/internal/workspace"
)

// Outcome summarizes one handled utterance.
type Outcome struct {
	UtteranceID string
	Reply       string
	ChunkCount  int
	Spoken      int
	Skipped     []int
	Fallback    bool
}

// StageEvent is one stage transition of an utterance. Chunks is the
// chunk count once known (0 before chunking); ChunkIndex is -1 except
// for per-chunk stages.
type StageEvent struct {
	Stage      string
	Detail     string
	Chunks     int
	ChunkIndex int
}

// Notify receives stage transitions as they happen. Implementations
// must not block; the supervisor calls it inline.
type Notify func(utteranceID string, ev StageEvent)

// Supervisor owns the full lifecycle of a spoken response.
type Supervisor struct {
	gen    generator.Generator
	synth  speech.Synthesizer
	player speech.Player
	pipe   *pipeline.Pipeline
	cfg    config.SpeakConfig
	log    *slog.Logger
	tracer trace.Tracer
	notify Notify
}

func New(gen generator.Generator, synth speech.Synthesizer, player speech.Player, cfg config.SpeakConfig, log *slog.Logger) *Supervisor {
	return &Supervisor{
		gen:    gen,
		synth:  synth,
		player: player,
		pipe:   pipeline.New(synth, player, log),
		cfg:    cfg,
		log:    log.With(slog.String("component", "speaker")),
		tracer: otel.Tracer("github.com/mgalpert/whisperpocket/speaker"),
		notify: func(string, StageEvent) {},
	}
}

// SetNotify installs a stage observer. Must be called before
// HandleUtterance.
func (s *Supervisor) SetNotify(fn Notify) {
	if fn != nil {
		s.notify = fn
	}
}

// HandleUtterance runs one complete input-to-speech cycle under a
// fresh utterance ID.
func (s *Supervisor) HandleUtterance(ctx context.Context, input string) (Outcome, error) {
	return s.Handle(ctx, uuid.NewString(), input)
}

// Handle runs one complete input-to-speech cycle. Empty input is a
// no-op. Generator failures degrade to the configured fallback message;
// the scratch workspace is removed on every path.
func (s *Supervisor) Handle(ctx context.Context, utteranceID, input string) (Outcome, error) {
	out := Outcome{UtteranceID: utteranceID}
	if strings.TrimSpace(input) == "" {
		return out, nil
	}

	ctx, span := s.tracer.Start(ctx, "speak.utterance", trace.WithAttributes(
		attribute.String("utterance.id", out.UtteranceID),
		attribute.Int("input.chars", len(input)),
	))
	defer span.End()

	ws, err := workspace.Create()
	if err != nil {
		return out, fmt.Errorf("create workspace: %w", err)
	}
	defer func() {
		if err := ws.Remove(); err != nil {
			s.log.Warn("workspace cleanup failed", slog.String("error", err.Error()))
		}
	}()

	out.Reply = s.generate(ctx, out.UtteranceID, input)

	if strings.TrimSpace(out.Reply) == "" {
		out.Fallback = true
		s.notify(out.UtteranceID, StageEvent{Stage: protocol.StageFallback, ChunkIndex: -1})
		s.speakFallback(ctx, ws)
		s.notify(out.UtteranceID, StageEvent{Stage: protocol.StageDone, ChunkIndex: -1})
		return out, nil
	}

	chunks := chunker.Split(out.Reply)
	out.ChunkCount = len(chunks)
	span.SetAttributes(
		attribute.Int("reply.chars", len(out.Reply)),
		attribute.Int("reply.chunks", len(chunks)),
	)
	if len(chunks) == 0 {
		s.log.Info("reply produced no speakable chunks",
			slog.String("utterance", out.UtteranceID))
		s.notify(out.UtteranceID, StageEvent{Stage: protocol.StageNoChunks, ChunkIndex: -1})
		s.notify(out.UtteranceID, StageEvent{Stage: protocol.StageDone, ChunkIndex: -1})
		return out, nil
	}

	seq := make([]*pipeline.Chunk, len(chunks))
	for i, text := range chunks {
		if err := ws.WriteChunkText(i, text); err != nil {
			s.log.Warn("chunk text write failed",
				slog.Int("chunk", i),
				slog.String("error", err.Error()))
		}
		seq[i] = &pipeline.Chunk{
			Index:     i,
			Text:      text,
			AudioPath: ws.AudioPath(i),
		}
	}

	s.notify(out.UtteranceID, StageEvent{Stage: protocol.StageSpeaking, Chunks: len(seq), ChunkIndex: -1})
	res, runErr := s.pipe.Run(ctx, seq)
	out.Spoken = res.Spoken
	out.Skipped = res.Skipped
	for _, idx := range res.Skipped {
		s.notify(out.UtteranceID, StageEvent{
			Stage:      protocol.StageSkippedChunk,
			Detail:     fmt.Sprintf("chunk %d", idx),
			Chunks:     len(seq),
			ChunkIndex: idx,
		})
	}
	s.notify(out.UtteranceID, StageEvent{Stage: protocol.StageDone, Chunks: out.ChunkCount, ChunkIndex: -1})
	return out, runErr
}

// generate runs the text generator under the ambient cue loop. The loop
// is always stopped, and fully drained, before this returns; generator
// failures are absorbed into an empty reply.
func (s *Supervisor) generate(ctx context.Context, utteranceID, input string) string {
	loop := ambient.Start(ctx, s.player, s.cfg.Ambient, s.log)
	defer loop.Stop()

	s.notify(utteranceID, StageEvent{Stage: protocol.StageGenerating, ChunkIndex: -1})

	genCtx := ctx
	if s.cfg.Generator.TimeoutMS > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.Generator.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	reply, err := s.gen.Generate(genCtx, input)
	if err != nil {
		s.log.Warn("generator failed",
			slog.String("utterance", utteranceID),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()))
		return ""
	}
	s.log.Debug("reply generated",
		slog.String("utterance", utteranceID),
		slog.Int("chars", len(reply)),
		slog.Duration("elapsed", time.Since(start)))
	return reply
}

// speakFallback voices the configured fallback message. Everything here
// is best effort: the fallback must never turn a degraded run into a
// failed one.
func (s *Supervisor) speakFallback(ctx context.Context, ws *workspace.Workspace) {
	msg := s.cfg.FallbackMessage
	if msg == "" {
		return
	}
	path := filepath.Join(ws.Root(), "fallback.wav")
	if err := s.synth.Synthesize(ctx, msg, path); err != nil {
		s.log.Warn("fallback synthesis failed", slog.String("error", err.Error()))
		return
	}
	if _, err := speech.ProbeWAV(path); err != nil {
		s.log.Warn("fallback audio unusable", slog.String("error", err.Error()))
		return
	}
	if err := s.player.Play(ctx, path); err != nil {
		s.log.Warn("fallback playback failed", slog.String("error", err.Error()))
	}
}
