package speaker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mgalpert/whisperpocket/internal/config"
	"github.com/mgalpert/whisperpocket/internal/generator"
	"github.com/mgalpert/whisperpocket/internal/speech"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func speakConfig() config.SpeakConfig {
	return config.SpeakConfig{
		Enabled: true,
		Generator: config.GeneratorConfig{
			Mode:      "mock",
			TimeoutMS: 5000,
		},
		Synth:           config.SynthConfig{Mode: "mock"},
		Playback:        config.PlaybackConfig{Mode: "mock"},
		Ambient:         config.AmbientConfig{GapMinMS: 5, GapMaxMS: 15},
		FallbackMessage: "Sorry, I didn't get a response.",
	}
}

type failingGenerator struct{}

func (failingGenerator) Generate(ctx context.Context, input string) (string, error) {
	return "", errors.New("agent unavailable")
}

type slowGenerator struct {
	reply string
	delay time.Duration
}

func (g slowGenerator) Generate(ctx context.Context, input string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(g.delay):
	}
	return g.reply, nil
}

// recordingSynth tracks synthesized texts on top of the real mock.
type recordingSynth struct {
	inner speech.Synthesizer
	mu    sync.Mutex
	texts []string
	fail  bool
}

func (s *recordingSynth) Synthesize(ctx context.Context, text, outPath string) error {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	if s.fail {
		return errors.New("synthesis backend down")
	}
	return s.inner.Synthesize(ctx, text, outPath)
}

func (s *recordingSynth) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.texts))
	copy(out, s.texts)
	return out
}

type stageRecorder struct {
	mu     sync.Mutex
	events []StageEvent
}

func (r *stageRecorder) record(utteranceID string, ev StageEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *stageRecorder) list() []StageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StageEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *stageRecorder) stages() []string {
	var out []string
	for _, ev := range r.list() {
		out = append(out, ev.Stage)
	}
	return out
}

func TestHandleUtteranceEmptyInputIsNoop(t *testing.T) {
	player := speech.NewMockPlayer()
	sup := New(generator.NewFixedGenerator("never used"), speech.NewMockSynthesizer(), player, speakConfig(), newLogger())

	out, err := sup.HandleUtterance(context.Background(), "   \n\t ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ChunkCount != 0 || out.Spoken != 0 || out.Fallback {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(player.Played()) != 0 {
		t.Fatalf("expected no playback, got %v", player.Played())
	}
}

func TestHandleUtteranceSpeaksChunksAndCleansUp(t *testing.T) {
	player := speech.NewMockPlayer()
	sup := New(generator.NewFixedGenerator("Hello there. How are you today?"), speech.NewMockSynthesizer(), player, speakConfig(), newLogger())

	out, err := sup.HandleUtterance(context.Background(), "greet me")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ChunkCount != 2 || out.Spoken != 2 || len(out.Skipped) != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	played := player.Played()
	if len(played) != 2 {
		t.Fatalf("expected 2 playbacks, got %v", played)
	}
	for _, path := range played {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("workspace artifact %s survived the run", path)
		}
	}
	if _, err := os.Stat(filepath.Dir(played[0])); !os.IsNotExist(err) {
		t.Fatalf("workspace directory survived the run")
	}
}

func TestHandleUtteranceFallbackOnGeneratorFailure(t *testing.T) {
	player := speech.NewMockPlayer()
	synth := &recordingSynth{inner: speech.NewMockSynthesizer()}
	cfg := speakConfig()
	sup := New(failingGenerator{}, synth, player, cfg, newLogger())

	out, err := sup.HandleUtterance(context.Background(), "anyone home?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Fallback {
		t.Fatalf("expected fallback outcome, got %+v", out)
	}
	texts := synth.seen()
	if len(texts) != 1 || texts[0] != cfg.FallbackMessage {
		t.Fatalf("expected fallback message synthesized, got %v", texts)
	}
	if len(player.Played()) != 1 {
		t.Fatalf("expected fallback playback, got %v", player.Played())
	}
}

func TestHandleUtteranceFallbackOnEmptyReply(t *testing.T) {
	player := speech.NewMockPlayer()
	sup := New(generator.NewFixedGenerator("   "), speech.NewMockSynthesizer(), player, speakConfig(), newLogger())

	out, err := sup.HandleUtterance(context.Background(), "say nothing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Fallback {
		t.Fatalf("expected fallback outcome, got %+v", out)
	}
}

func TestHandleUtteranceNoChunksIsSuccess(t *testing.T) {
	player := speech.NewMockPlayer()
	sup := New(generator.NewFixedGenerator("*** `` ***"), speech.NewMockSynthesizer(), player, speakConfig(), newLogger())

	out, err := sup.HandleUtterance(context.Background(), "markup only")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Fallback || out.ChunkCount != 0 || out.Spoken != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(player.Played()) != 0 {
		t.Fatalf("expected no playback, got %v", player.Played())
	}
}

func TestHandleUtteranceSkipsFailedSynthesis(t *testing.T) {
	player := speech.NewMockPlayer()
	synth := &recordingSynth{inner: speech.NewMockSynthesizer(), fail: true}
	sup := New(generator.NewFixedGenerator("First sentence here. Second sentence here."), synth, player, speakConfig(), newLogger())

	out, err := sup.HandleUtterance(context.Background(), "speak up")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Fallback {
		t.Fatalf("synthesis failure must not trigger fallback: %+v", out)
	}
	if out.Spoken != 0 || len(out.Skipped) != out.ChunkCount {
		t.Fatalf("expected every chunk skipped, got %+v", out)
	}
	if len(player.Played()) != 0 {
		t.Fatalf("expected no playback, got %v", player.Played())
	}
}

func TestHandleUtteranceAmbientCueStopsBeforeSpeech(t *testing.T) {
	dir := t.TempDir()
	cue := filepath.Join(dir, "typing.wav")
	if err := speech.WriteSilenceWAV(cue, 16000, 30*time.Millisecond); err != nil {
		t.Fatalf("write cue: %v", err)
	}

	player := speech.NewMockPlayer()
	player.Delay = 5 * time.Millisecond
	cfg := speakConfig()
	cfg.Ambient.CuePath = cue
	gen := slowGenerator{reply: "Here is the answer you wanted.", delay: 100 * time.Millisecond}
	sup := New(gen, speech.NewMockSynthesizer(), player, cfg, newLogger())

	out, err := sup.HandleUtterance(context.Background(), "think about it")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Spoken != 1 {
		t.Fatalf("unexpected outcome %+v", out)
	}

	played := player.Played()
	cues := 0
	lastCue := -1
	firstChunk := len(played)
	for i, path := range played {
		if path == cue {
			cues++
			lastCue = i
		} else if i < firstChunk {
			firstChunk = i
		}
	}
	if cues == 0 {
		t.Fatalf("ambient cue never played: %v", played)
	}
	if lastCue > firstChunk {
		t.Fatalf("ambient cue played after speech began: %v", played)
	}
}

func TestHandleUtteranceStageOrder(t *testing.T) {
	rec := &stageRecorder{}
	player := speech.NewMockPlayer()
	sup := New(generator.NewFixedGenerator("All good here."), speech.NewMockSynthesizer(), player, speakConfig(), newLogger())
	sup.SetNotify(rec.record)

	if _, err := sup.HandleUtterance(context.Background(), "status?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stages := rec.stages()
	want := []string{"generating", "speaking", "done"}
	if strings.Join(stages, ",") != strings.Join(want, ",") {
		t.Fatalf("expected stages %v, got %v", want, stages)
	}
	events := rec.list()
	if events[1].Chunks != 1 || events[1].ChunkIndex != -1 {
		t.Fatalf("speaking stage must carry the chunk count, got %+v", events[1])
	}
	if events[2].Chunks != 1 {
		t.Fatalf("done stage must carry the chunk count, got %+v", events[2])
	}
}

func TestHandleUtteranceSkippedStageCarriesChunkIndex(t *testing.T) {
	rec := &stageRecorder{}
	player := speech.NewMockPlayer()
	synth := &recordingSynth{inner: speech.NewMockSynthesizer(), fail: true}
	sup := New(generator.NewFixedGenerator("First sentence here. Second sentence here."), synth, player, speakConfig(), newLogger())
	sup.SetNotify(rec.record)

	if _, err := sup.HandleUtterance(context.Background(), "speak up"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var skipped []StageEvent
	for _, ev := range rec.list() {
		if ev.Stage == "skipped_chunk" {
			skipped = append(skipped, ev)
		}
	}
	if len(skipped) != 2 {
		t.Fatalf("expected 2 skipped_chunk events, got %v", skipped)
	}
	for i, ev := range skipped {
		if ev.ChunkIndex != i || ev.Chunks != 2 {
			t.Fatalf("skipped event %d missing chunk fields: %+v", i, ev)
		}
	}
}

func TestHandleUtteranceFallbackStageOrder(t *testing.T) {
	rec := &stageRecorder{}
	player := speech.NewMockPlayer()
	sup := New(failingGenerator{}, speech.NewMockSynthesizer(), player, speakConfig(), newLogger())
	sup.SetNotify(rec.record)

	if _, err := sup.HandleUtterance(context.Background(), "hello?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stages := rec.stages()
	want := []string{"generating", "fallback", "done"}
	if strings.Join(stages, ",") != strings.Join(want, ",") {
		t.Fatalf("expected stages %v, got %v", want, stages)
	}
}
