package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
	"github.com/DevRickLin/feishu-nudge/internal/biz/usecase"
	"github.com/DevRickLin/feishu-nudge/internal/data"
	"github.com/DevRickLin/feishu-nudge/internal/service"
)

type staticSettings struct{ cfg *domain.Settings }

func (s staticSettings) Current() *domain.Settings { return s.cfg }

func (s staticSettings) Update(_ context.Context, fn func(*domain.Settings) error) (*domain.Settings, error) {
	next := s.cfg.Clone()
	return next, fn(next)
}

type fakeTicker struct {
	report *service.TickReport
	err    error
}

func (f *fakeTicker) RunOnce(context.Context) (*service.TickReport, error) { return f.report, f.err }

type testAPI struct {
	handler http.Handler
	cfg     *domain.Settings
}

func newTestAPI(t *testing.T, ticker TickRunner) *testAPI {
	t.Helper()
	db, err := data.OpenDB(filepath.Join(t.TempDir(), "nudge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sessions, err := data.NewSessionRepo(db)
	require.NoError(t, err)
	reminders, err := data.NewReminderRepo(db)
	require.NoError(t, err)
	conversations, err := data.NewConversationRepo(db)
	require.NoError(t, err)
	cache, err := data.NewCacheRepo(db)
	require.NoError(t, err)
	personas, err := data.NewPersonaRepo(db, domain.Persona{})
	require.NoError(t, err)

	cfg := domain.DefaultSettings()
	cfg.Location = time.UTC
	cfg.IdleJitterPercent = 0
	settings := staticSettings{cfg}
	clock := domain.ClockFunc(func() time.Time { return time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC) })

	registry := usecase.NewRegistry(sessions, reminders, clock)
	triggers := usecase.NewTriggerEvaluator(usecase.NewRandom())
	lifecycle := usecase.NewLifecycleUsecase(registry, settings, triggers, conversations, cache)
	reminderUC := usecase.NewReminderUsecase(registry, settings)
	contexts := usecase.NewContextBuilderUsecase([]usecase.HistoryProvider{usecase.NewConversationProvider(conversations)}, personas, clock)

	srv := NewServer(registry, lifecycle, reminderUC, contexts, personas, settings, ticker, 0)
	return &testAPI{handler: srv.Router(), cfg: cfg}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t, nil)
	rec := a.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubscriptionLifecycle(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, http.MethodPost, "/api/sessions/oc_1/subscription", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sub := decode[SubscriptionResponse](t, rec)
	assert.True(t, sub.Changed)
	assert.True(t, sub.Session.Subscribed)
	require.NotNil(t, sub.Session.NextIdleAt)
	assert.Equal(t, "2025-01-01 10:45", sub.Session.NextIdleAt.Format(domain.MinuteLayout))

	rec = a.do(t, http.MethodPost, "/api/sessions/oc_1/subscription", "")
	assert.False(t, decode[SubscriptionResponse](t, rec).Changed)

	a.do(t, http.MethodPost, "/api/sessions/oc_2/subscription", "")
	a.do(t, http.MethodDelete, "/api/sessions/oc_2/subscription", "")

	rec = a.do(t, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[[]SessionView](t, rec)
	require.Len(t, all, 2)
	assert.Equal(t, "oc_1", all[0].SessionID)
	assert.False(t, all[1].Subscribed)

	rec = a.do(t, http.MethodGet, "/api/sessions?subscribed=true", "")
	assert.Len(t, decode[[]SessionView](t, rec), 1)

	rec = a.do(t, http.MethodGet, "/api/sessions/oc_1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[SessionView](t, rec)
	assert.Equal(t, "global", view.QuietSource)
	assert.Equal(t, 45.0, view.IdleMinutes)

	rec = a.do(t, http.MethodGet, "/api/sessions/oc_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReminderRoutes(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, http.MethodPost, "/api/sessions/oc_1/reminders", `{"when":"11:30","content":"stand up"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rem := decode[domain.Reminder](t, rec)
	assert.Equal(t, int64(1), rem.ID)
	assert.Equal(t, "2025-01-01 11:30", rem.FireAt)

	rec = a.do(t, http.MethodPost, "/api/sessions/oc_1/reminders", `{"when":"08:00","content":"water","daily":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/sessions/oc_1/reminders", `{"when":"2024-12-31 09:00","content":"late"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "in the past")

	rec = a.do(t, http.MethodGet, "/api/sessions/oc_1/reminders", "")
	list := decode[[]domain.Reminder](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, domain.ReminderDaily, list[1].Kind)

	rec = a.do(t, http.MethodDelete, "/api/sessions/oc_1/reminders/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(t, http.MethodDelete, "/api/sessions/oc_1/reminders/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = a.do(t, http.MethodDelete, "/api/sessions/oc_1/reminders/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/sessions/oc_empty/reminders", "")
	assert.Equal(t, "[]\n", rec.Body.String())

	a.cfg.RemindersEnabled = false
	rec = a.do(t, http.MethodPost, "/api/sessions/oc_1/reminders", `{"when":"11:30","content":"x"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPersonaRoutes(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, http.MethodGet, "/api/sessions/oc_1/persona", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodPut, "/api/sessions/oc_1/persona", `{"name":"coach","prompt":"be brief"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/sessions/oc_1/persona", "")
	assert.Equal(t, "be brief", decode[domain.Persona](t, rec).Prompt)

	rec = a.do(t, http.MethodPut, "/api/sessions/oc_1/persona", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfigAndTick(t *testing.T) {
	ticker := &fakeTicker{report: &service.TickReport{TickID: "t-1", Result: &usecase.TickResult{Sessions: 3}, Dispatch: service.DispatchResult{Sent: 1}}}
	a := newTestAPI(t, ticker)

	rec := a.do(t, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decode[ConfigView](t, rec)
	assert.Equal(t, 45.0, cfg.IdleMinutes)
	assert.Len(t, cfg.DailySlots, 3)

	rec = a.do(t, http.MethodPost, "/api/tick", "")
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[service.TickReport](t, rec)
	assert.Equal(t, "t-1", report.TickID)
	assert.Equal(t, 1, report.Dispatch.Sent)

	ticker.report, ticker.err = nil, service.ErrTickInProgress
	rec = a.do(t, http.MethodPost, "/api/tick", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = newTestAPI(t, nil).do(t, http.MethodPost, "/api/tick", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestContextRoute(t *testing.T) {
	a := newTestAPI(t, nil)
	rec := a.do(t, http.MethodGet, "/api/sessions/oc_1/context", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
