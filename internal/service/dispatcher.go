package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"goa.design/clue/log"
	"golang.org/x/time/rate"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
)

// Deliverer generates and sends one proactive message
type Deliverer interface {
	Deliver(ctx context.Context, ev *domain.Event, cfg *domain.Settings) error
}

// DispatchResult summarizes one dispatched batch
type DispatchResult struct {
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Canceled int `json:"canceled"`
}

// Dispatcher delivers events one at a time, spaced by the configured
// dispatch interval. One limiter spans every batch and batches never
// overlap, so the gap also holds between the last call of one batch and
// the first call of the next.
type Dispatcher struct {
	deliverer Deliverer
	metrics   *schedulerMetrics

	slot     chan struct{} // held for the duration of a batch
	limiter  *rate.Limiter
	interval time.Duration // guarded by slot
}

// NewDispatcher creates a dispatcher around deliverer
func NewDispatcher(deliverer Deliverer) *Dispatcher {
	return &Dispatcher{
		deliverer: deliverer,
		metrics:   newSchedulerMetrics(),
		slot:      make(chan struct{}, 1),
		limiter:   rate.NewLimiter(rate.Inf, 1),
	}
}

func intervalLimit(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}

// setInterval retunes the shared limiter when the settings changed.
// Caller holds slot.
func (d *Dispatcher) setInterval(interval time.Duration) {
	if interval == d.interval {
		return
	}
	d.interval = interval
	d.limiter.SetLimit(intervalLimit(interval))
}

// Dispatch delivers events in order. A failed or timed out job is logged and
// the batch continues; cancellation of ctx abandons the remaining events.
// A batch waits for any batch already in progress.
func (d *Dispatcher) Dispatch(ctx context.Context, events []domain.Event, cfg *domain.Settings) DispatchResult {
	var res DispatchResult
	if len(events) == 0 {
		return res
	}

	select {
	case d.slot <- struct{}{}:
	case <-ctx.Done():
		res.Canceled = len(events)
		log.Info(ctx, log.KV{K: "component", V: "dispatcher"}, log.KV{K: "msg", V: "dispatch canceled"},
			log.KV{K: "remaining", V: res.Canceled})
		return res
	}
	defer func() { <-d.slot }()

	d.setInterval(cfg.DispatchInterval)

	for i := range events {
		ev := &events[i]
		if err := d.limiter.Wait(ctx); err != nil {
			res.Canceled = len(events) - i
			log.Info(ctx, log.KV{K: "component", V: "dispatcher"}, log.KV{K: "msg", V: "dispatch canceled"},
				log.KV{K: "remaining", V: res.Canceled})
			return res
		}

		kind := attribute.String("kind", string(ev.Kind))
		if err := d.deliver(ctx, ev, cfg); err != nil {
			res.Failed++
			add(ctx, d.metrics.failed, 1, kind)
			log.Errorf(ctx, err, "proactive %s for %s failed", ev.Label(), ev.SessionID)
			continue
		}
		res.Sent++
		add(ctx, d.metrics.sent, 1, kind)
		log.Info(ctx, log.KV{K: "component", V: "dispatcher"}, log.KV{K: "msg", V: "proactive message sent"},
			log.KV{K: "session", V: ev.SessionID}, log.KV{K: "trigger", V: ev.Label()})
	}
	return res
}

func (d *Dispatcher) deliver(ctx context.Context, ev *domain.Event, cfg *domain.Settings) error {
	jobCtx, cancel := context.WithTimeout(ctx, cfg.DispatchTimeout)
	defer cancel()

	err := d.deliverer.Deliver(jobCtx, ev, cfg)
	if err != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		return errors.Join(err, errDispatchTimeout)
	}
	return err
}

var errDispatchTimeout = errors.New("dispatch timed out")
