package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"goa.design/clue/log"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
	"github.com/DevRickLin/feishu-nudge/internal/biz/repo"
	"github.com/DevRickLin/feishu-nudge/internal/biz/usecase"
	"github.com/DevRickLin/feishu-nudge/internal/service"
)

// TickRunner runs one scheduler pass on demand
type TickRunner interface {
	RunOnce(ctx context.Context) (*service.TickReport, error)
}

// Server provides the HTTP API used by the WebUI subscription list and the
// MCP tools
type Server struct {
	registry  *usecase.Registry
	lifecycle *usecase.LifecycleUsecase
	reminders *usecase.ReminderUsecase
	contexts  *usecase.ContextBuilderUsecase
	personas  repo.PersonaRepo
	settings  usecase.SettingsSource
	ticker    TickRunner

	server *http.Server
	port   int
}

// NewServer creates a new API server. ticker may be nil, which disables
// POST /api/tick.
func NewServer(
	registry *usecase.Registry,
	lifecycle *usecase.LifecycleUsecase,
	reminders *usecase.ReminderUsecase,
	contexts *usecase.ContextBuilderUsecase,
	personas repo.PersonaRepo,
	settings usecase.SettingsSource,
	ticker TickRunner,
	port int,
) *Server {
	return &Server{
		registry:  registry,
		lifecycle: lifecycle,
		reminders: reminders,
		contexts:  contexts,
		personas:  personas,
		settings:  settings,
		ticker:    ticker,
		port:      port,
	}
}

// Router builds the HTTP routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", s.handleConfig)
		r.Post("/tick", s.handleTick)

		r.Get("/sessions", s.handleListSessions)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Post("/subscription", s.handleSubscribe)
			r.Delete("/subscription", s.handleUnsubscribe)
			r.Get("/context", s.handleContext)
			r.Get("/persona", s.handleGetPersona)
			r.Put("/persona", s.handleSetPersona)

			r.Get("/reminders", s.handleListReminders)
			r.Post("/reminders", s.handleAddReminder)
			r.Delete("/reminders/{reminderID}", s.handleDeleteReminder)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	log.Info(ctx, log.KV{K: "component", V: "api"}, log.KV{K: "msg", V: "starting HTTP server"}, log.KV{K: "port", V: s.port})
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// GetPort returns the server port
func (s *Server) GetPort() int {
	return s.port
}

// ============ Sessions ============

// SessionView is the JSON form of a session
type SessionView struct {
	SessionID        string     `json:"session_id"`
	Subscribed       bool       `json:"subscribed"`
	AutoUnsubscribed bool       `json:"auto_unsubscribed"`
	LastMessageAt    *time.Time `json:"last_message_at,omitempty"`
	LastBotAt        *time.Time `json:"last_bot_at,omitempty"`
	NextIdleAt       *time.Time `json:"next_idle_at,omitempty"`
	NoReplyDays      int        `json:"no_reply_days"`
	IdleMinutes      float64    `json:"idle_minutes"`
	Quiet            string     `json:"quiet"`
	QuietSource      string     `json:"quiet_source"`
	FiredTags        []string   `json:"fired_tags"`
}

func optionalTime(t time.Time, loc *time.Location) *time.Time {
	if t.IsZero() {
		return nil
	}
	lt := t.In(loc)
	return &lt
}

// NewSessionView renders s against the effective settings
func NewSessionView(s *domain.SessionState, cfg *domain.Settings) SessionView {
	quiet, source := cfg.Quiet, "global"
	if s.QuietOverride != nil {
		quiet, source = *s.QuietOverride, "session"
	}
	return SessionView{
		SessionID:        s.SessionID,
		Subscribed:       s.Subscribed,
		AutoUnsubscribed: s.AutoUnsubscribed,
		LastMessageAt:    optionalTime(s.LastMessageAt, cfg.Location),
		LastBotAt:        optionalTime(s.LastBotAt, cfg.Location),
		NextIdleAt:       optionalTime(s.NextIdleAt, cfg.Location),
		NoReplyDays:      s.NoReplyDays,
		IdleMinutes:      s.IdleThreshold(cfg.IdleBaseline).Minutes(),
		Quiet:            quiet.String(),
		QuietSource:      source,
		FiredTags:        s.Tags(),
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.registry.Sessions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg := s.settings.Current()
	subscribedOnly := r.URL.Query().Get("subscribed") == "true"

	views := make([]SessionView, 0, len(sessions))
	for _, sess := range sessions {
		if subscribedOnly && !sess.Subscribed {
			continue
		}
		views = append(views, NewSessionView(sess, cfg))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Session(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sess == nil {
		s.writeError(w, r, domain.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSessionView(sess, s.settings.Current()))
}

// SubscriptionResponse reports the result of a subscription change
type SubscriptionResponse struct {
	Changed bool        `json:"changed"`
	Session SessionView `json:"session"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	sess, changed, err := s.lifecycle.Subscribe(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, SubscriptionResponse{Changed: changed, Session: NewSessionView(sess, s.settings.Current())})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	sess, changed, err := s.lifecycle.Unsubscribe(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, SubscriptionResponse{Changed: changed, Session: NewSessionView(sess, s.settings.Current())})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	res := s.contexts.LastResolution(chi.URLParam(r, "sessionID"))
	if res == nil {
		s.writeError(w, r, domain.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// ============ Personas ============

func (s *Server) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	p, err := s.personas.GetPersona(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if p == nil {
		s.writeError(w, r, domain.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSetPersona(w http.ResponseWriter, r *http.Request) {
	var p domain.Persona
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeError(w, r, &domain.ValidationError{Field: "body", Message: err.Error()})
		return
	}
	if err := s.personas.SetPersona(r.Context(), chi.URLParam(r, "sessionID"), p); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"cleared": p.IsZero()})
}

// ============ Reminders ============

// AddReminderRequest is the body of POST /reminders
type AddReminderRequest struct {
	When      string `json:"when"` // "YYYY-MM-DD HH:MM" or "HH:MM"
	Content   string `json:"content"`
	Daily     bool   `json:"daily"`
	CreatedBy string `json:"created_by,omitempty"`
}

func (s *Server) handleListReminders(w http.ResponseWriter, r *http.Request) {
	list, err := s.reminders.List(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*domain.Reminder{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAddReminder(w http.ResponseWriter, r *http.Request) {
	if !s.settings.Current().RemindersEnabled {
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": "reminders are disabled"})
		return
	}
	var req AddReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, &domain.ValidationError{Field: "body", Message: err.Error()})
		return
	}
	rem, err := s.reminders.Add(r.Context(), chi.URLParam(r, "sessionID"), req.When, req.Content, req.Daily, req.CreatedBy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rem)
}

func (s *Server) handleDeleteReminder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "reminderID"), 10, 64)
	if err != nil {
		s.writeError(w, r, &domain.ValidationError{Field: "reminderID", Message: "must be an integer"})
		return
	}
	if err := s.reminders.Delete(r.Context(), chi.URLParam(r, "sessionID"), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============ Scheduler ============

// ConfigView is the JSON form of the effective settings
type ConfigView struct {
	Enabled          bool     `json:"enabled"`
	Timezone         string   `json:"timezone"`
	SubscribeMode    string   `json:"subscribe_mode"`
	IdleEnabled      bool     `json:"idle_enabled"`
	IdleMinutes      float64  `json:"idle_minutes"`
	IdleJitter       int      `json:"idle_jitter_percent"`
	DailyEnabled     bool     `json:"daily_enabled"`
	DailySlots       []string `json:"daily_slots"`
	Quiet            string   `json:"quiet"`
	HistoryDepth     int      `json:"history_depth"`
	RemindersEnabled bool     `json:"reminders_enabled"`
	MaxNoReplyDays   int      `json:"max_no_reply_days"`
	AutoResubscribe  bool     `json:"auto_resubscribe"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.settings.Current()
	slots := make([]string, 0, len(cfg.Slots))
	for _, slot := range cfg.Slots {
		state := "off"
		if slot.Enabled {
			state = "on"
		}
		slots = append(slots, fmt.Sprintf("%d %s %s", slot.Index, domain.FormatTimeOfDay(slot.Minute), state))
	}
	s.writeJSON(w, http.StatusOK, ConfigView{
		Enabled:          cfg.Enabled,
		Timezone:         cfg.Timezone,
		SubscribeMode:    cfg.SubscribeMode,
		IdleEnabled:      cfg.IdleEnabled,
		IdleMinutes:      cfg.IdleBaseline.Minutes(),
		IdleJitter:       cfg.IdleJitterPercent,
		DailyEnabled:     cfg.DailyEnabled,
		DailySlots:       slots,
		Quiet:            cfg.Quiet.String(),
		HistoryDepth:     cfg.HistoryDepth,
		RemindersEnabled: cfg.RemindersEnabled,
		MaxNoReplyDays:   cfg.MaxNoReplyDays,
		AutoResubscribe:  cfg.AutoResubscribe,
	})
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	if s.ticker == nil {
		s.writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "scheduler is not running"})
		return
	}
	report, err := s.ticker.RunOnce(r.Context())
	if errors.Is(err, service.ErrTickInProgress) {
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// ============ Helpers ============

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Message, "field": ve.Field})
	case errors.Is(err, domain.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		log.Errorf(r.Context(), err, "%s %s failed", r.Method, r.URL.Path)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
