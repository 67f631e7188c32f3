package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
	"github.com/DevRickLin/feishu-nudge/internal/biz/usecase"
)

// Mock implementations

type staticSettings struct{ cfg *domain.Settings }

func (s staticSettings) Current() *domain.Settings { return s.cfg }

func (s staticSettings) Update(_ context.Context, fn func(*domain.Settings) error) (*domain.Settings, error) {
	next := s.cfg.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	return next, nil
}

type mockDeliverer struct {
	mu        sync.Mutex
	delivered []string
	at        []time.Time
	fail      map[string]error
	block     bool

	inflight    atomic.Int32
	maxInflight atomic.Int32
	hold        time.Duration
}

func (m *mockDeliverer) Deliver(ctx context.Context, ev *domain.Event, _ *domain.Settings) error {
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	n := m.inflight.Add(1)
	defer m.inflight.Add(-1)
	for {
		peak := m.maxInflight.Load()
		if n <= peak || m.maxInflight.CompareAndSwap(peak, n) {
			break
		}
	}
	if m.hold > 0 {
		time.Sleep(m.hold)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.at = append(m.at, time.Now())
	if err := m.fail[ev.SessionID]; err != nil {
		return err
	}
	m.delivered = append(m.delivered, ev.SessionID+"/"+ev.Label())
	return nil
}

// Gaps returns the time between consecutive deliveries
func (m *mockDeliverer) Gaps() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	var gaps []time.Duration
	for i := 1; i < len(m.at); i++ {
		gaps = append(gaps, m.at[i].Sub(m.at[i-1]))
	}
	return gaps
}

func (m *mockDeliverer) Delivered() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.delivered...)
}

type mockEvaluator struct {
	mu      sync.Mutex
	events  []domain.Event
	err     error
	calls   int
	release chan struct{}
	entered chan struct{}
	seen    *domain.Settings
}

func (m *mockEvaluator) Evaluate(_ context.Context, now time.Time, cfg *domain.Settings) (*usecase.TickResult, error) {
	m.mu.Lock()
	m.calls++
	m.seen = cfg
	m.mu.Unlock()
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.release != nil {
		<-m.release
	}
	if m.err != nil {
		return nil, m.err
	}
	return &usecase.TickResult{At: now, Sessions: 2, Events: m.events, Suppressed: 1}, nil
}

func testSettings() *domain.Settings {
	cfg := domain.DefaultSettings()
	cfg.Location = time.UTC
	cfg.DispatchInterval = 0
	cfg.DispatchTimeout = time.Second
	return cfg
}

func idleEvent(sid string) domain.Event {
	return domain.Event{SessionID: sid, Kind: domain.TriggerIdle, Tag: "idle:2025-01-01 10:45"}
}

func fixedClock() domain.Clock {
	return domain.ClockFunc(func() time.Time { return time.Date(2025, 1, 1, 10, 45, 0, 0, time.UTC) })
}

func TestRunOnceDispatchesEvents(t *testing.T) {
	cfg := testSettings()
	eval := &mockEvaluator{events: []domain.Event{
		idleEvent("oc_a"),
		{SessionID: "oc_b", Kind: domain.TriggerReminder, ReminderID: 3},
	}}
	del := &mockDeliverer{}
	s := NewProactiveScheduler(eval, staticSettings{cfg}, NewDispatcher(del), fixedClock(), 0)

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, report.TickID)
	assert.Equal(t, 2, report.Result.Sessions)
	assert.Equal(t, DispatchResult{Sent: 2}, report.Dispatch)
	assert.Equal(t, []string{"oc_a/idle", "oc_b/reminder#3"}, del.Delivered())
	assert.Same(t, cfg, eval.seen)
}

func TestRunOnceEvaluationError(t *testing.T) {
	eval := &mockEvaluator{err: errors.New("list sessions: disk I/O error")}
	s := NewProactiveScheduler(eval, staticSettings{testSettings()}, NewDispatcher(&mockDeliverer{}), fixedClock(), 0)

	_, err := s.RunOnce(context.Background())
	assert.ErrorContains(t, err, "disk I/O")
}

func TestRunOnceSingleFlight(t *testing.T) {
	eval := &mockEvaluator{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := NewProactiveScheduler(eval, staticSettings{testSettings()}, NewDispatcher(&mockDeliverer{}), fixedClock(), 0)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background())
		done <- err
	}()
	<-eval.entered

	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrTickInProgress)

	close(eval.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, eval.calls)
}

func TestDispatchContinuesAfterFailure(t *testing.T) {
	del := &mockDeliverer{fail: map[string]error{"oc_a": errors.New("send failed")}}
	d := NewDispatcher(del)

	res := d.Dispatch(context.Background(), []domain.Event{idleEvent("oc_a"), idleEvent("oc_b")}, testSettings())
	assert.Equal(t, DispatchResult{Sent: 1, Failed: 1}, res)
	assert.Equal(t, []string{"oc_b/idle"}, del.Delivered())
}

func TestDispatchTimeout(t *testing.T) {
	cfg := testSettings()
	cfg.DispatchTimeout = 20 * time.Millisecond
	d := NewDispatcher(&mockDeliverer{block: true})

	start := time.Now()
	res := d.Dispatch(context.Background(), []domain.Event{idleEvent("oc_a"), idleEvent("oc_b")}, cfg)
	assert.Equal(t, 2, res.Failed)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDispatchPacing(t *testing.T) {
	cfg := testSettings()
	cfg.DispatchInterval = 40 * time.Millisecond
	del := &mockDeliverer{}
	d := NewDispatcher(del)

	start := time.Now()
	res := d.Dispatch(context.Background(), []domain.Event{idleEvent("oc_a"), idleEvent("oc_b"), idleEvent("oc_c")}, cfg)
	assert.Equal(t, 3, res.Sent)
	// first job is immediate, the next two wait one interval each
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestDispatchPacingSpansBatches(t *testing.T) {
	cfg := testSettings()
	cfg.DispatchInterval = 40 * time.Millisecond
	del := &mockDeliverer{}
	d := NewDispatcher(del)

	// back to back, the way the dispatch worker drains its queue
	first := d.Dispatch(context.Background(), []domain.Event{idleEvent("oc_a"), idleEvent("oc_b")}, cfg)
	second := d.Dispatch(context.Background(), []domain.Event{idleEvent("oc_c"), idleEvent("oc_d")}, cfg)
	assert.Equal(t, 2, first.Sent)
	assert.Equal(t, 2, second.Sent)

	gaps := del.Gaps()
	require.Len(t, gaps, 3)
	for i, gap := range gaps {
		assert.GreaterOrEqual(t, gap, 30*time.Millisecond, "gap %d", i)
	}
}

func TestDispatchSerializesConcurrentBatches(t *testing.T) {
	cfg := testSettings()
	cfg.DispatchInterval = 30 * time.Millisecond
	del := &mockDeliverer{hold: 5 * time.Millisecond}
	d := NewDispatcher(del)

	var wg sync.WaitGroup
	for _, sid := range []string{"oc_a", "oc_b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Dispatch(context.Background(), []domain.Event{idleEvent(sid + "1"), idleEvent(sid + "2")}, cfg)
		}()
	}
	wg.Wait()

	assert.Len(t, del.Delivered(), 4)
	assert.Equal(t, int32(1), del.maxInflight.Load())
	for i, gap := range del.Gaps() {
		assert.GreaterOrEqual(t, gap, 20*time.Millisecond, "gap %d", i)
	}
}

func TestDispatchRetunesInterval(t *testing.T) {
	cfg := testSettings()
	cfg.DispatchInterval = time.Hour
	d := NewDispatcher(&mockDeliverer{})

	d.Dispatch(context.Background(), []domain.Event{idleEvent("oc_a")}, cfg)
	assert.Equal(t, rate.Every(time.Hour), d.limiter.Limit())

	fast := testSettings()
	start := time.Now()
	res := d.Dispatch(context.Background(), []domain.Event{idleEvent("oc_b"), idleEvent("oc_c")}, fast)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, rate.Inf, d.limiter.Limit())
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatchCanceledWhileWaitingForBatch(t *testing.T) {
	del := &mockDeliverer{}
	d := NewDispatcher(del)
	d.slot <- struct{}{} // another batch in progress

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := d.Dispatch(ctx, []domain.Event{idleEvent("oc_a"), idleEvent("oc_b")}, testSettings())
	assert.Equal(t, DispatchResult{Canceled: 2}, res)
	assert.Empty(t, del.Delivered())
}

func TestDispatchCanceled(t *testing.T) {
	cfg := testSettings()
	cfg.DispatchInterval = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	del := &mockDeliverer{}
	d := NewDispatcher(del)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res := d.Dispatch(ctx, []domain.Event{idleEvent("oc_a"), idleEvent("oc_b"), idleEvent("oc_c")}, cfg)
	assert.Equal(t, DispatchResult{Sent: 1, Canceled: 2}, res)
}

func TestSchedulerLoop(t *testing.T) {
	eval := &mockEvaluator{events: []domain.Event{idleEvent("oc_a")}}
	del := &mockDeliverer{}
	s := NewProactiveScheduler(eval, staticSettings{testSettings()}, NewDispatcher(del), fixedClock(), 10*time.Millisecond)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return len(del.Delivered()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	eval.mu.Lock()
	calls := eval.calls
	eval.mu.Unlock()
	assert.GreaterOrEqual(t, calls, 2)
}
