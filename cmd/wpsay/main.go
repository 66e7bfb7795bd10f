// wpsay generates and speaks a reply for a single utterance, without
// the daemon: useful for trying out the chain of collaborators.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mgalpert/whisperpocket/internal/config"
	"github.com/mgalpert/whisperpocket/internal/generator"
	"github.com/mgalpert/whisperpocket/internal/speaker"
	"github.com/mgalpert/whisperpocket/internal/speech"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (defaults apply when empty)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	text, err := inputText(flag.Args(), os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read stdin: %v\n", err)
		os.Exit(1)
	}
	// Nothing to say is not an error.
	if text == "" {
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	gen, err := generator.FromConfig(cfg.Speak.Generator)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build generator: %v\n", err)
		os.Exit(1)
	}
	synth, err := speech.NewSynthesizer(cfg.Speak.Synth)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build synthesizer: %v\n", err)
		os.Exit(1)
	}
	player, err := speech.NewPlayer(cfg.Speak.Playback)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build player: %v\n", err)
		os.Exit(1)
	}

	sup := speaker.New(gen, synth, player, cfg.Speak, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out, err := sup.HandleUtterance(ctx, text)
	if err != nil {
		fmt.Fprintf(os.Stderr, "utterance failed: %v\n", err)
		os.Exit(1)
	}
	if out.Reply != "" {
		fmt.Println(out.Reply)
	}
	if len(out.Skipped) > 0 {
		fmt.Fprintf(os.Stderr, "skipped %d of %d chunks\n", len(out.Skipped), out.ChunkCount)
	}
}

// inputText joins the argument words, falling back to stdin when none
// are given. Whitespace-only input collapses to the empty string.
func inputText(args []string, stdin io.Reader) (string, error) {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text != "" {
		return text, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
