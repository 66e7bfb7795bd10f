// Package collab tracks availability of the external collaborators the
// runtime shells out to: the text generator, the speech synthesizer,
// the playback command, and the ambient cue file.
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	shellwords "github.com/mattn/go-shellwords"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/mgalpert/whisperpocket/internal/bus"
	"github.com/mgalpert/whisperpocket/internal/config"
	"github.com/mgalpert/whisperpocket/internal/protocol"
)

// Status is the last probe result for one collaborator.
type Status struct {
	Name      string
	Required  bool
	Available bool
	Detail    string
	LastProbe time.Time
}

type collaborator struct {
	name     string
	required bool
	probe    func() (bool, string)
}

// Registry re-probes the configured collaborators on an interval and
// publishes changes on the bus.
type Registry struct {
	cfg      config.CollabConfig
	log      *slog.Logger
	bus      *bus.Client
	mu       sync.RWMutex
	statuses map[string]*Status
	probes   []collaborator
	ticker   *time.Ticker
	cancel   context.CancelFunc
	meter    metric.Meter
	gauge    metric.Int64ObservableGauge
}

func NewRegistry(ctx context.Context, cfg config.CollabConfig, speak config.SpeakConfig, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:      cfg,
		log:      log.With(slog.String("component", "collab-registry")),
		bus:      busClient,
		statuses: make(map[string]*Status),
		probes:   buildProbes(speak),
		meter:    otel.Meter("github.com/mgalpert/whisperpocket/runtime"),
		cancel:   cancel,
	}

	if !cfg.Enabled {
		return r, nil
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	r.probeAll()

	r.ticker = time.NewTicker(time.Duration(cfg.ProbeIntervalMS) * time.Millisecond)
	go r.run(ctx)

	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.ticker != nil {
		r.ticker.Stop()
	}
}

func (r *Registry) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.ticker.C:
			r.probeAll()
		}
	}
}

func (r *Registry) probeAll() {
	now := time.Now().UTC()
	for _, c := range r.probes {
		available, detail := c.probe()
		changed := r.update(c, available, detail, now)
		if changed {
			r.log.Info("collaborator availability changed",
				slog.String("name", c.name),
				slog.Bool("available", available),
				slog.String("detail", detail))
			r.publish(c.name, available, detail, now)
		}
	}
}

func (r *Registry) update(c collaborator, available bool, detail string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.statuses[c.name]
	if !ok {
		st = &Status{Name: c.name, Required: c.required}
		r.statuses[c.name] = st
	}
	changed := !ok || st.Available != available
	st.Available = available
	st.Detail = detail
	st.LastProbe = now
	return changed
}

func (r *Registry) publish(name string, available bool, detail string, now time.Time) {
	if r.bus == nil {
		return
	}
	msg := protocol.CollabStatus{
		Name:      name,
		Available: available,
		Detail:    detail,
		Timestamp: now,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := r.bus.Conn().Publish(protocol.SubjectCollabStatus, payload); err != nil {
		r.log.Warn("failed to publish collaborator status", slog.String("error", err.Error()))
	}
}

// Healthy reports whether every required collaborator was available at
// its last probe.
func (r *Registry) Healthy() bool {
	if !r.cfg.Enabled {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, st := range r.statuses {
		if st.Required && !st.Available {
			return false
		}
	}
	return len(r.statuses) > 0
}

// Statuses returns a snapshot of the known collaborators.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.statuses))
	for _, st := range r.statuses {
		out = append(out, *st)
	}
	return out
}

func (r *Registry) initMetrics() error {
	gauge, err := r.meter.Int64ObservableGauge("wp.collab.available",
		metric.WithDescription("Number of available collaborators"))
	if err != nil {
		return err
	}
	r.gauge = gauge
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, r.availableCount())
		return nil
	}, gauge)
	return err
}

func (r *Registry) availableCount() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, st := range r.statuses {
		if st.Available {
			n++
		}
	}
	return n
}

func buildProbes(speak config.SpeakConfig) []collaborator {
	var probes []collaborator

	switch speak.Generator.Mode {
	case "exec":
		probes = append(probes, collaborator{"generator", true, binaryProbe(speak.Generator.Command)})
	case "ollama":
		probes = append(probes, collaborator{"generator", true, endpointProbe(speak.Generator.Endpoint)})
	default:
		probes = append(probes, collaborator{"generator", true, builtinProbe()})
	}

	if speak.Synth.Mode == "exec" {
		probes = append(probes, collaborator{"synth", true, binaryProbe(speak.Synth.Command)})
	} else {
		probes = append(probes, collaborator{"synth", true, builtinProbe()})
	}

	if speak.Playback.Mode == "exec" {
		probes = append(probes, collaborator{"playback", true, binaryProbe(speak.Playback.Command)})
	} else {
		probes = append(probes, collaborator{"playback", true, builtinProbe()})
	}

	if speak.Ambient.CuePath != "" {
		probes = append(probes, collaborator{"ambient-cue", false, fileProbe(speak.Ambient.CuePath)})
	}

	return probes
}

func binaryProbe(command string) func() (bool, string) {
	return func() (bool, string) {
		bin, err := commandBinary(command)
		if err != nil {
			return false, err.Error()
		}
		path, err := exec.LookPath(bin)
		if err != nil {
			return false, err.Error()
		}
		return true, path
	}
}

func fileProbe(path string) func() (bool, string) {
	return func() (bool, string) {
		if _, err := os.Stat(path); err != nil {
			return false, err.Error()
		}
		return true, path
	}
}

func endpointProbe(endpoint string) func() (bool, string) {
	return func() (bool, string) {
		if endpoint == "" {
			return false, "no endpoint configured"
		}
		return true, endpoint
	}
}

func builtinProbe() func() (bool, string) {
	return func() (bool, string) {
		return true, "builtin"
	}
}

func commandBinary(command string) (string, error) {
	parts, err := shellwords.Parse(command)
	if err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", errors.New("empty command")
	}
	return parts[0], nil
}
