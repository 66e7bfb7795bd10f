package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mgalpert/whisperpocket/internal/speech"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

func (l *eventLog) indexOf(e string) int {
	for i, have := range l.list() {
		if have == e {
			return i
		}
	}
	return -1
}

// scriptedSynth writes real WAV artifacts and records its schedule.
type scriptedSynth struct {
	events      *eventLog
	fail        map[int]bool
	delay       time.Duration
	gate        chan struct{} // when set, synthesis of gateIndex blocks until closed
	gateIndex   int
	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (s *scriptedSynth) Synthesize(ctx context.Context, text, outPath string) error {
	idx, _ := strconv.Atoi(text)
	if s.gate != nil && idx == s.gateIndex {
		<-s.gate
	}
	cur := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		max := s.maxInflight.Load()
		if cur <= max || s.maxInflight.CompareAndSwap(max, cur) {
			break
		}
	}
	s.events.add(fmt.Sprintf("synth-start %d", idx))
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.fail[idx] {
		s.events.add(fmt.Sprintf("synth-fail %d", idx))
		return errors.New("engine rejected text")
	}
	if err := speech.WriteSilenceWAV(outPath, 16000, 60*time.Millisecond); err != nil {
		return err
	}
	s.events.add(fmt.Sprintf("synth-done %d", idx))
	return nil
}

// scriptedPlayer records playback order and can trigger a callback as
// each playback begins.
type scriptedPlayer struct {
	events      *eventLog
	delay       time.Duration
	onPlayStart func(idx int)
	failIndex   int
}

func newScriptedPlayer(events *eventLog) *scriptedPlayer {
	return &scriptedPlayer{events: events, delay: 20 * time.Millisecond, failIndex: -1}
}

func (p *scriptedPlayer) Play(ctx context.Context, path string) error {
	idx, _ := strconv.Atoi(strings.TrimSuffix(filepath.Base(path), ".wav"))
	p.events.add(fmt.Sprintf("play-start %d", idx))
	if p.onPlayStart != nil {
		p.onPlayStart(idx)
	}
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay):
		}
	}
	if idx == p.failIndex {
		return errors.New("audio device busy")
	}
	p.events.add(fmt.Sprintf("play-done %d", idx))
	return nil
}

func makeChunks(t *testing.T, n int) []*Chunk {
	t.Helper()
	dir := t.TempDir()
	chunks := make([]*Chunk, n)
	for i := 0; i < n; i++ {
		chunks[i] = &Chunk{
			Index:     i,
			Text:      strconv.Itoa(i),
			AudioPath: filepath.Join(dir, fmt.Sprintf("%d.wav", i)),
		}
	}
	return chunks
}

func TestRunEmptyIsNoop(t *testing.T) {
	events := &eventLog{}
	p := New(&scriptedSynth{events: events}, newScriptedPlayer(events), newLogger())
	res, err := p.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Spoken != 0 || len(res.Skipped) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := events.list(); len(got) != 0 {
		t.Fatalf("expected no events, got %v", got)
	}
}

func TestRunSingleChunkNoLookahead(t *testing.T) {
	events := &eventLog{}
	synth := &scriptedSynth{events: events}
	p := New(synth, newScriptedPlayer(events), newLogger())

	res, err := p.Run(context.Background(), makeChunks(t, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Spoken != 1 {
		t.Fatalf("expected one spoken chunk, got %+v", res)
	}
	want := []string{"synth-start 0", "synth-done 0", "play-start 0", "play-done 0"}
	got := events.list()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	if synth.maxInflight.Load() > 1 {
		t.Fatalf("lookahead bound exceeded: %d", synth.maxInflight.Load())
	}
}

func TestRunOrderingInvariants(t *testing.T) {
	events := &eventLog{}
	synth := &scriptedSynth{events: events, delay: 5 * time.Millisecond}
	p := New(synth, newScriptedPlayer(events), newLogger())

	chunks := makeChunks(t, 3)
	res, err := p.Run(context.Background(), chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Spoken != 3 || len(res.Skipped) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	for i := 0; i < 3; i++ {
		synthDone := events.indexOf(fmt.Sprintf("synth-done %d", i))
		playStart := events.indexOf(fmt.Sprintf("play-start %d", i))
		if synthDone < 0 || playStart < 0 {
			t.Fatalf("missing events for chunk %d: %v", i, events.list())
		}
		if synthDone > playStart {
			t.Fatalf("chunk %d played before synthesis completed: %v", i, events.list())
		}
		if i > 0 {
			prevDone := events.indexOf(fmt.Sprintf("synth-done %d", i-1))
			synthStart := events.indexOf(fmt.Sprintf("synth-start %d", i))
			if synthStart < prevDone {
				t.Fatalf("synthesis of %d started before %d completed: %v", i, i-1, events.list())
			}
			prevPlay := events.indexOf(fmt.Sprintf("play-start %d", i-1))
			if playStart < prevPlay {
				t.Fatalf("playback out of order: %v", events.list())
			}
		}
	}
	if synth.maxInflight.Load() > 1 {
		t.Fatalf("two synthesis tasks in flight: %d", synth.maxInflight.Load())
	}
}

func TestRunSkipsFailedChunkAndContinues(t *testing.T) {
	events := &eventLog{}
	synth := &scriptedSynth{events: events, fail: map[int]bool{1: true}}
	p := New(synth, newScriptedPlayer(events), newLogger())

	chunks := makeChunks(t, 3)
	res, err := p.Run(context.Background(), chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Spoken != 2 {
		t.Fatalf("expected 2 spoken chunks, got %+v", res)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != 1 {
		t.Fatalf("expected chunk 1 skipped, got %+v", res)
	}
	if chunks[1].State != Failed {
		t.Fatalf("expected chunk 1 failed, got %s", chunks[1].State)
	}
	if events.indexOf("play-start 1") >= 0 {
		t.Fatalf("failed chunk was played: %v", events.list())
	}
	if events.indexOf("play-start 2") < 0 {
		t.Fatalf("run did not continue past failed chunk: %v", events.list())
	}
}

func TestRunFirstChunkFailure(t *testing.T) {
	events := &eventLog{}
	synth := &scriptedSynth{events: events, fail: map[int]bool{0: true}}
	p := New(synth, newScriptedPlayer(events), newLogger())

	chunks := makeChunks(t, 2)
	res, err := p.Run(context.Background(), chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Spoken != 1 || len(res.Skipped) != 1 || res.Skipped[0] != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if events.indexOf("play-start 1") < 0 {
		t.Fatalf("second chunk never played: %v", events.list())
	}
}

func TestRunLookaheadStartsAfterPlaybackBegins(t *testing.T) {
	events := &eventLog{}
	gate := make(chan struct{})
	synth := &scriptedSynth{events: events, gate: gate, gateIndex: 2}
	player := newScriptedPlayer(events)
	var once sync.Once
	player.onPlayStart = func(idx int) {
		if idx == 1 {
			once.Do(func() { close(gate) })
		}
	}
	p := New(synth, player, newLogger())

	res, err := p.Run(context.Background(), makeChunks(t, 3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Spoken != 3 {
		t.Fatalf("unexpected result %+v", res)
	}

	playOne := events.indexOf("play-start 1")
	synthTwo := events.indexOf("synth-start 2")
	synthOneDone := events.indexOf("synth-done 1")
	if playOne < 0 || synthTwo < 0 || synthOneDone < 0 {
		t.Fatalf("missing events: %v", events.list())
	}
	if synthTwo < playOne {
		t.Fatalf("synthesis of chunk 2 began before playback of chunk 1: %v", events.list())
	}
	if synthTwo < synthOneDone {
		t.Fatalf("synthesis of chunk 2 began before chunk 1 finished: %v", events.list())
	}
}

func TestRunPlaybackFailureDoesNotAbort(t *testing.T) {
	events := &eventLog{}
	synth := &scriptedSynth{events: events}
	player := newScriptedPlayer(events)
	player.failIndex = 0
	p := New(synth, player, newLogger())

	res, err := p.Run(context.Background(), makeChunks(t, 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Spoken != 1 {
		t.Fatalf("expected the second chunk spoken, got %+v", res)
	}
	if events.indexOf("play-start 1") < 0 {
		t.Fatalf("run did not continue after playback failure: %v", events.list())
	}
}

func TestRunCancelledContext(t *testing.T) {
	events := &eventLog{}
	synth := &scriptedSynth{events: events}
	p := New(synth, newScriptedPlayer(events), newLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Run(ctx, makeChunks(t, 2)); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
