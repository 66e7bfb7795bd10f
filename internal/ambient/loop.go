// Package ambient masks generator latency with a repeating cue sound.
package ambient

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/mgalpert/whisperpocket/internal/config"
	"github.com/mgalpert/whisperpocket/internal/speech"
)

// Loop is a cancellable background activity that repeat-plays the cue
// until stopped. The zero value is not usable; Start builds one.
type Loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches the cue loop. It returns nil when no cue is
// configured or the cue file does not exist; Stop on a nil Loop is
// safe. Playback errors never surface to the caller.
func Start(ctx context.Context, player speech.Player, cfg config.AmbientConfig, log *slog.Logger) *Loop {
	if cfg.CuePath == "" {
		return nil
	}
	if _, err := os.Stat(cfg.CuePath); err != nil {
		log.Debug("ambient cue absent, loop disabled", slog.String("cue", cfg.CuePath))
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	l := &Loop{cancel: cancel, done: make(chan struct{})}
	go l.run(ctx, player, cfg, log)
	return l
}

func (l *Loop) run(ctx context.Context, player speech.Player, cfg config.AmbientConfig, log *slog.Logger) {
	defer close(l.done)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := player.Play(ctx, cfg.CuePath); err != nil {
			if ctx.Err() != nil {
				return
			}
			// Missing playback capability disables ambient sound for
			// this run; the utterance itself is unaffected.
			log.Debug("ambient cue playback failed, loop disabled", slog.String("error", err.Error()))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(gap(cfg)):
		}
	}
}

// gap picks a randomized pause between cue repetitions, mimicking the
// uneven cadence of someone typing.
func gap(cfg config.AmbientConfig) time.Duration {
	lo, hi := cfg.GapMinMS, cfg.GapMaxMS
	if hi <= lo {
		return time.Duration(lo) * time.Millisecond
	}
	return time.Duration(lo+rand.IntN(hi-lo+1)) * time.Millisecond
}

// Stop cancels the loop, cuts any in-progress cue playback, and blocks
// until the background activity has fully exited.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.cancel()
	<-l.done
}
