package usecase

import (
	"context"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
	"github.com/DevRickLin/feishu-nudge/internal/biz/repo"
)

// LifecycleUsecase handles subscription transitions and inbound activity
type LifecycleUsecase struct {
	registry  *Registry
	settings  SettingsSource
	triggers  *TriggerEvaluator
	convRepo  repo.ConversationRepo
	cacheRepo repo.CacheRepo
}

// NewLifecycleUsecase creates a new lifecycle usecase
func NewLifecycleUsecase(
	registry *Registry,
	settings SettingsSource,
	triggers *TriggerEvaluator,
	convRepo repo.ConversationRepo,
	cacheRepo repo.CacheRepo,
) *LifecycleUsecase {
	return &LifecycleUsecase{
		registry:  registry,
		settings:  settings,
		triggers:  triggers,
		convRepo:  convRepo,
		cacheRepo: cacheRepo,
	}
}

// ObserveInbound records a user message: resets inactivity, reschedules the
// idle deadline and applies auto (re)subscription.
func (uc *LifecycleUsecase) ObserveInbound(ctx context.Context, msg *domain.InboundMessage) (*domain.SessionState, error) {
	cfg := uc.settings.Current()
	at := msg.At
	if at.IsZero() {
		at = uc.registry.Now()
	}
	at = at.In(cfg.Location)

	s, err := uc.registry.Mutate(ctx, msg.SessionID, func(s *domain.SessionState, _ bool) error {
		// rows created by commands or the API have never seen a message
		firstContact := s.LastMessageAt.IsZero()
		s.LastMessageAt = at
		s.InactiveSince = at
		s.NoReplyDays = 0
		s.UpdatedAt = at

		switch {
		case s.AutoUnsubscribed && cfg.AutoResubscribe:
			if s.Subscribe() {
				log.Info(ctx, log.KV{K: "component", V: "lifecycle"}, log.KV{K: "msg", V: "auto-resubscribed"}, log.KV{K: "session", V: s.SessionID})
			}
		case firstContact && cfg.SubscribeMode == domain.SubscribeAuto && !s.Subscribed && !s.Unwatched:
			s.Subscribe()
			log.Info(ctx, log.KV{K: "component", V: "lifecycle"}, log.KV{K: "msg", V: "auto-subscribed"}, log.KV{K: "session", V: s.SessionID})
		}

		uc.triggers.ScheduleIdle(s, at, cfg)
		return nil
	})
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return s, nil
	}
	turn := domain.Turn{Role: domain.RoleUser, Text: text}
	if s.Subscribed && uc.cacheRepo != nil {
		if err := uc.cacheRepo.Push(ctx, s.SessionID, turn); err != nil {
			log.Warnf(ctx, "cache push for %s failed: %v", s.SessionID, err)
		}
	}
	if uc.convRepo != nil {
		if err := uc.convRepo.AppendTurn(ctx, s.SessionID, turn); err != nil {
			log.Warnf(ctx, "conversation append for %s failed: %v", s.SessionID, err)
		}
	}
	return s, nil
}

// Subscribe turns a session on. changed is false when it already was.
func (uc *LifecycleUsecase) Subscribe(ctx context.Context, sessionID string) (s *domain.SessionState, changed bool, err error) {
	cfg := uc.settings.Current()
	now := uc.registry.Now().In(cfg.Location)
	s, err = uc.registry.Mutate(ctx, sessionID, func(s *domain.SessionState, _ bool) error {
		changed = s.Subscribe()
		if changed {
			s.UpdatedAt = now
			// inactivity restarts from an explicit subscribe
			s.InactiveSince = now
			s.NoReplyDays = 0
			// a stale or unknown deadline restarts from now
			if s.NextIdleAt.IsZero() || s.NextIdleAt.Before(now) {
				uc.triggers.ScheduleIdle(s, now, cfg)
			}
		}
		return nil
	})
	return s, changed, err
}

// Unsubscribe turns a session off. changed is false when it already was.
func (uc *LifecycleUsecase) Unsubscribe(ctx context.Context, sessionID string) (s *domain.SessionState, changed bool, err error) {
	s, err = uc.registry.Mutate(ctx, sessionID, func(s *domain.SessionState, _ bool) error {
		changed = s.Unsubscribe(false)
		if changed {
			s.UpdatedAt = uc.registry.Now()
		}
		return nil
	})
	return s, changed, err
}

// Sweep recomputes the no-reply counter from the inactivity baseline and
// applies the inactivity unsubscribe. Returns true if the session was
// unsubscribed. Caller holds the state lock and saves s.
func (uc *LifecycleUsecase) Sweep(ctx context.Context, now time.Time, s *domain.SessionState, cfg *domain.Settings) bool {
	since := s.InactivityBaseline()
	if since.IsZero() {
		return false
	}
	days := int(now.Sub(since) / (24 * time.Hour))
	if days < 0 {
		days = 0
	}
	s.NoReplyDays = days

	if cfg.MaxNoReplyDays > 0 && s.NoReplyDays >= cfg.MaxNoReplyDays && s.Unsubscribe(true) {
		s.UpdatedAt = now
		log.Info(ctx, log.KV{K: "component", V: "lifecycle"},
			log.KV{K: "msg", V: "auto-unsubscribed after inactivity"},
			log.KV{K: "session", V: s.SessionID},
			log.KV{K: "no_reply_days", V: s.NoReplyDays})
		return true
	}
	return false
}
