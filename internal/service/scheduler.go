package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"goa.design/clue/log"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
	"github.com/DevRickLin/feishu-nudge/internal/biz/usecase"
)

// DefaultTickInterval is how often the scheduler evaluates triggers. It is
// shorter than a minute so every wall-clock minute is seen at least once.
const DefaultTickInterval = 30 * time.Second

// ErrTickInProgress is returned by RunOnce when another pass holds the lock
var ErrTickInProgress = errors.New("a scheduler pass is already running")

// TickEvaluator runs one evaluation pass
type TickEvaluator interface {
	Evaluate(ctx context.Context, now time.Time, cfg *domain.Settings) (*usecase.TickResult, error)
}

// TickReport is the outcome of a RunOnce call
type TickReport struct {
	TickID   string              `json:"tick_id"`
	Result   *usecase.TickResult `json:"result"`
	Dispatch DispatchResult      `json:"dispatch"`
}

type batch struct {
	ctx    context.Context
	events []domain.Event
	cfg    *domain.Settings
}

// ProactiveScheduler drives evaluation passes on a ticker and feeds due
// events to the dispatcher
type ProactiveScheduler struct {
	evaluator  TickEvaluator
	settings   usecase.SettingsSource
	dispatcher *Dispatcher
	clock      domain.Clock
	interval   time.Duration
	metrics    *schedulerMetrics

	running sync.Mutex
	queue   chan batch

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProactiveScheduler creates a new scheduler. A zero interval uses
// DefaultTickInterval.
func NewProactiveScheduler(
	evaluator TickEvaluator,
	settings usecase.SettingsSource,
	dispatcher *Dispatcher,
	clock domain.Clock,
	interval time.Duration,
) *ProactiveScheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &ProactiveScheduler{
		evaluator:  evaluator,
		settings:   settings,
		dispatcher: dispatcher,
		clock:      clock,
		interval:   interval,
		metrics:    newSchedulerMetrics(),
		queue:      make(chan batch, 16),
	}
}

// Start starts the tick loop and the dispatch worker
func (s *ProactiveScheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.tickLoop()
	go s.dispatchLoop()

	log.Info(ctx, log.KV{K: "component", V: "scheduler"}, log.KV{K: "msg", V: "started"},
		log.KV{K: "interval", V: s.interval.String()})
}

// Stop stops the scheduler and waits for in-flight work to return
func (s *ProactiveScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	log.Info(s.ctx, log.KV{K: "component", V: "scheduler"}, log.KV{K: "msg", V: "stopped"})
}

func (s *ProactiveScheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick(s.ctx)
		}
	}
}

// dispatchLoop delivers queued batches while evaluation keeps running every
// interval. The dispatcher serializes it with RunOnce.
func (s *ProactiveScheduler) dispatchLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case b := <-s.queue:
			s.dispatcher.Dispatch(b.ctx, b.events, b.cfg)
		}
	}
}

// tick evaluates and enqueues the events for the dispatch worker
func (s *ProactiveScheduler) tick(ctx context.Context) {
	ctx, cfg, result, err := s.evaluate(ctx)
	if err != nil {
		if !errors.Is(err, ErrTickInProgress) {
			log.Errorf(ctx, err, "scheduler pass failed")
		}
		return
	}
	if len(result.Events) == 0 {
		return
	}

	select {
	case s.queue <- batch{ctx: ctx, events: result.Events, cfg: cfg}:
	default:
		// Tags are already marked, so dropped events are not retried
		log.Warnf(ctx, "dispatch queue full, dropping %d events", len(result.Events))
		add(ctx, s.metrics.failed, int64(len(result.Events)), attribute.String("reason", "queue_full"))
	}
}

// RunOnce evaluates once and dispatches the resulting events before
// returning. Its batch queues behind any batch the worker is delivering and
// shares its pacing. It is used by the tick command and the HTTP API.
func (s *ProactiveScheduler) RunOnce(ctx context.Context) (*TickReport, error) {
	ctx, cfg, result, err := s.evaluate(ctx)
	if err != nil {
		return nil, err
	}
	report := &TickReport{TickID: tickID(ctx), Result: result}
	report.Dispatch = s.dispatcher.Dispatch(ctx, result.Events, cfg)
	return report, nil
}

type tickIDKey struct{}

func tickID(ctx context.Context) string {
	id, _ := ctx.Value(tickIDKey{}).(string)
	return id
}

// evaluate runs a single-flight evaluation pass with one settings snapshot
func (s *ProactiveScheduler) evaluate(ctx context.Context) (context.Context, *domain.Settings, *usecase.TickResult, error) {
	if !s.running.TryLock() {
		add(ctx, s.metrics.skipped, 1)
		log.Warnf(ctx, "previous scheduler pass still running, skipping")
		return ctx, nil, nil, ErrTickInProgress
	}
	defer s.running.Unlock()

	id := uuid.NewString()
	ctx = context.WithValue(ctx, tickIDKey{}, id)
	ctx = log.With(ctx, log.KV{K: "tick", V: id})
	ctx, span := s.metrics.tracer.Start(ctx, "nudge.tick")
	defer span.End()

	cfg := s.settings.Current()
	result, err := s.evaluator.Evaluate(ctx, s.clock.Now(), cfg)
	if err != nil {
		span.RecordError(err)
		return ctx, cfg, nil, err
	}

	add(ctx, s.metrics.ticks, 1)
	add(ctx, s.metrics.suppressed, int64(result.Suppressed))
	span.SetAttributes(
		attribute.Int("sessions", result.Sessions),
		attribute.Int("events", len(result.Events)),
	)
	log.Debug(ctx, log.KV{K: "component", V: "scheduler"}, log.KV{K: "msg", V: "pass complete"},
		log.KV{K: "sessions", V: result.Sessions}, log.KV{K: "events", V: len(result.Events)},
		log.KV{K: "suppressed", V: result.Suppressed}, log.KV{K: "unsubscribed", V: result.Unsubscribed})
	return ctx, cfg, result, nil
}
