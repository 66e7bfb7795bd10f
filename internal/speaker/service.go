package speaker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mgalpert/whisperpocket/internal/bus"
	"github.com/mgalpert/whisperpocket/internal/config"
	"github.com/mgalpert/whisperpocket/internal/eventstore"
	"github.com/mgalpert/whisperpocket/internal/protocol"
)

// Service consumes speak requests from the bus, drives the supervisor,
// and records stage events. Utterances are handled one at a time so
// their audio never interleaves.
type Service struct {
	cfg    config.SpeakConfig
	bus    *bus.Client
	store  *eventstore.Store
	sup    *Supervisor
	logger *slog.Logger
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	speak  sync.Mutex

	utterances  metric.Int64Counter
	spoken      metric.Int64Counter
	skipped     metric.Int64Counter
	fallbacks   metric.Int64Counter
	utteranceMS metric.Float64Histogram
}

func NewService(parent context.Context, cfg config.SpeakConfig, busClient *bus.Client, store *eventstore.Store, sup *Supervisor, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:    cfg,
		bus:    busClient,
		store:  store,
		sup:    sup,
		logger: logger.With(slog.String("component", "speak-service")),
		ctx:    ctx,
		cancel: cancel,
	}
	sup.SetNotify(s.recordStage)
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	if err := s.initMetrics(); err != nil {
		return err
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSpeakRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.sub != nil
}

func (s *Service) initMetrics() error {
	meter := otel.Meter("github.com/mgalpert/whisperpocket/speaker")
	var err error
	if s.utterances, err = meter.Int64Counter("wp.speak.utterances",
		metric.WithDescription("Handled speak requests")); err != nil {
		return err
	}
	if s.spoken, err = meter.Int64Counter("wp.speak.chunks_spoken",
		metric.WithDescription("Chunks played to completion")); err != nil {
		return err
	}
	if s.skipped, err = meter.Int64Counter("wp.speak.chunks_skipped",
		metric.WithDescription("Chunks skipped after failed synthesis")); err != nil {
		return err
	}
	if s.fallbacks, err = meter.Int64Counter("wp.speak.fallbacks",
		metric.WithDescription("Utterances answered with the fallback message")); err != nil {
		return err
	}
	if s.utteranceMS, err = meter.Float64Histogram("wp.speak.utterance_ms",
		metric.WithDescription("End-to-end utterance handling time in milliseconds")); err != nil {
		return err
	}
	return nil
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.SpeakRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode speak request", slogError(err))
		return
	}
	if req.Text == "" {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.speak.Lock()
		defer s.speak.Unlock()
		s.runUtterance(req)
	}()
}

func (s *Service) runUtterance(req protocol.SpeakRequest) {
	start := time.Now()
	id := req.UtteranceID
	if id == "" {
		id = uuid.NewString()
	}

	// The utterance row has to exist before any stage events land.
	record := eventstore.Utterance{UtteranceID: id, InputChars: len(req.Text)}
	if err := s.store.AppendUtterance(s.ctx, record); err != nil {
		s.logger.Warn("failed to record utterance", slogError(err))
	}

	out, err := s.sup.Handle(s.ctx, id, req.Text)
	if err != nil {
		s.logger.Warn("utterance aborted",
			slog.String("utterance", out.UtteranceID),
			slogError(err))
	}

	record.ReplyChars = len(out.Reply)
	record.ChunkCount = out.ChunkCount
	if err := s.store.AppendUtterance(s.ctx, record); err != nil {
		s.logger.Warn("failed to record utterance", slogError(err))
	}

	if s.utterances != nil {
		attrs := metric.WithAttributes(attribute.Bool("fallback", out.Fallback))
		s.utterances.Add(s.ctx, 1, attrs)
		s.spoken.Add(s.ctx, int64(out.Spoken))
		s.skipped.Add(s.ctx, int64(len(out.Skipped)))
		if out.Fallback {
			s.fallbacks.Add(s.ctx, 1)
		}
		s.utteranceMS.Record(s.ctx, float64(time.Since(start).Milliseconds()))
	}

	s.logger.Info("utterance handled",
		slog.String("utterance", out.UtteranceID),
		slog.Int("chunks", out.ChunkCount),
		slog.Int("spoken", out.Spoken),
		slog.Int("skipped", len(out.Skipped)),
		slog.Bool("fallback", out.Fallback),
		slog.Duration("elapsed", time.Since(start)))
}

// recordStage publishes a stage transition on the bus and appends it to
// the event store. Both are best effort.
func (s *Service) recordStage(utteranceID string, ev StageEvent) {
	status := protocol.SpeakStatus{
		UtteranceID: utteranceID,
		Stage:       ev.Stage,
		Chunks:      ev.Chunks,
		ChunkIndex:  ev.ChunkIndex,
		Detail:      ev.Detail,
		Timestamp:   time.Now().UTC(),
	}
	if data, err := json.Marshal(status); err == nil {
		if err := s.bus.Conn().Publish(protocol.SubjectSpeakStatus, data); err != nil {
			s.logger.Warn("failed to publish speak status", slogError(err))
		}
	}
	evt := eventstore.Event{UtteranceID: utteranceID, Type: ev.Stage, Detail: ev.Detail}
	if err := s.store.AppendEvent(s.ctx, evt); err != nil {
		s.logger.Warn("failed to record stage event", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
