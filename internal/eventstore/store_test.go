package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/mgalpert/whisperpocket/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{UtteranceID: "u", Type: "noop"}); err != nil {
		t.Fatalf("append on ephemeral store: %v", err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	utteranceID := "utt-123"
	u := Utterance{UtteranceID: utteranceID, InputChars: 12, ReplyChars: 40, ChunkCount: 3}
	if err := es.AppendUtterance(context.Background(), u); err != nil {
		t.Fatalf("append utterance: %v", err)
	}
	if err := es.AppendEvent(context.Background(), Event{UtteranceID: utteranceID, Type: "speaking", Detail: "chunk 0"}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := es.ListUtteranceEvents(context.Background(), utteranceID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Detail != "chunk 0" {
		t.Fatalf("unexpected detail: %s", events[0].Detail)
	}
}

func TestAppendUtteranceUpdatesCounts(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	if err := es.AppendUtterance(context.Background(), Utterance{UtteranceID: "utt-1"}); err != nil {
		t.Fatalf("append utterance: %v", err)
	}
	if err := es.AppendUtterance(context.Background(), Utterance{UtteranceID: "utt-1", ReplyChars: 99, ChunkCount: 4}); err != nil {
		t.Fatalf("re-append utterance: %v", err)
	}

	var reply, chunks int
	row := es.db.QueryRow(`SELECT reply_chars, chunk_count FROM utterances WHERE utterance_id = ?`, "utt-1")
	if err := row.Scan(&reply, &chunks); err != nil {
		t.Fatalf("scan utterance: %v", err)
	}
	if reply != 99 || chunks != 4 {
		t.Fatalf("expected updated counts, got reply=%d chunks=%d", reply, chunks)
	}
}

func TestPruneByDaysAndUtterances(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "persistent", RetentionDays: 1, MaxUtterances: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendUtterance(context.Background(), Utterance{UtteranceID: "old-utt"}); err != nil {
		t.Fatalf("append utterance: %v", err)
	}
	if err := es.AppendEvent(context.Background(), Event{UtteranceID: "old-utt", Type: "done"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendUtterance(context.Background(), Utterance{UtteranceID: "new-utt"}); err != nil {
		t.Fatalf("append utterance: %v", err)
	}
	if err := es.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListUtteranceEvents(context.Background(), "old-utt", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old utterance pruned")
	}
}
