package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"goa.design/clue/log"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
	"github.com/DevRickLin/feishu-nudge/internal/biz/repo"
)

// ErrEmptyReply is returned when the model produced no text
var ErrEmptyReply = errors.New("model returned an empty reply")

// TickResult summarizes one evaluation pass
type TickResult struct {
	At           time.Time      `json:"at"`
	Sessions     int            `json:"sessions"`
	Events       []domain.Event `json:"-"`
	Suppressed   int            `json:"suppressed"`
	Unsubscribed int            `json:"unsubscribed"`
	Pruned       int            `json:"pruned"`
}

// ProactiveUsecase evaluates triggers and reminders and delivers due events
type ProactiveUsecase struct {
	registry  *Registry
	settings  SettingsSource
	triggers  *TriggerEvaluator
	lifecycle *LifecycleUsecase
	reminders *ReminderUsecase
	contexts  *ContextBuilderUsecase
	llm       repo.LLMRepo
	messages  repo.MessageRepo
	convRepo  repo.ConversationRepo
	cacheRepo repo.CacheRepo

	// suppressions already counted, keyed by session and tag. Guarded by the
	// registry lock.
	muted map[string]time.Time

	mu       sync.Mutex
	lastTick *TickResult
}

// NewProactiveUsecase creates a new proactive usecase
func NewProactiveUsecase(
	registry *Registry,
	settings SettingsSource,
	triggers *TriggerEvaluator,
	lifecycle *LifecycleUsecase,
	reminders *ReminderUsecase,
	contexts *ContextBuilderUsecase,
	llm repo.LLMRepo,
	messages repo.MessageRepo,
	convRepo repo.ConversationRepo,
	cacheRepo repo.CacheRepo,
) *ProactiveUsecase {
	return &ProactiveUsecase{
		registry:  registry,
		settings:  settings,
		triggers:  triggers,
		lifecycle: lifecycle,
		reminders: reminders,
		contexts:  contexts,
		llm:       llm,
		messages:  messages,
		convRepo:  convRepo,
		cacheRepo: cacheRepo,
		muted:     make(map[string]time.Time),
	}
}

// Evaluate runs one pass over every session and the reminder store under the
// state lock. Fired tags and reminder state are persisted before any event is
// returned, so delivery never races the next pass.
func (uc *ProactiveUsecase) Evaluate(ctx context.Context, now time.Time, cfg *domain.Settings) (*TickResult, error) {
	now = now.In(cfg.Location)
	result := &TickResult{At: now}

	err := uc.registry.Do(func() error {
		sessions, err := uc.registry.sessions.ListAll(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		result.Sessions = len(sessions)

		byID := make(map[string]*domain.SessionState, len(sessions))
		for _, s := range sessions {
			byID[s.SessionID] = s

			beforeDays := s.NoReplyDays
			dirty := false
			if uc.lifecycle.Sweep(ctx, now, s, cfg) {
				result.Unsubscribed++
				dirty = true
			}
			if s.NoReplyDays != beforeDays {
				dirty = true
			}

			ev := uc.triggers.Evaluate(now, s, cfg)
			result.Pruned += ev.Pruned
			for _, tag := range ev.Suppressed {
				if !uc.noteSuppressed(s.SessionID, tag, now) {
					continue
				}
				result.Suppressed++
				log.Debug(ctx, log.KV{K: "component", V: "scheduler"}, log.KV{K: "msg", V: "suppressed by quiet hours"},
					log.KV{K: "session", V: s.SessionID}, log.KV{K: "tag", V: tag})
			}
			if len(ev.Events) > 0 || ev.Pruned > 0 {
				dirty = true
			}
			if !dirty {
				continue
			}

			s.UpdatedAt = now
			if err := uc.registry.sessions.Save(ctx, s); err != nil {
				// unsaved tags could fire again next pass, drop this session's events
				log.Errorf(ctx, err, "save session %s", s.SessionID)
				continue
			}
			result.Events = append(result.Events, ev.Events...)
		}

		result.Events = append(result.Events, uc.reminders.collectDue(ctx, now, cfg, byID)...)
		uc.pruneSuppressed(now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.mu.Lock()
	uc.lastTick = result
	uc.mu.Unlock()
	return result, nil
}

// noteSuppressed reports whether tag is suppressed for the first time.
// A deadline muted across many ticks counts once.
func (uc *ProactiveUsecase) noteSuppressed(sessionID, tag string, now time.Time) bool {
	key := sessionID + "|" + tag
	if _, ok := uc.muted[key]; ok {
		return false
	}
	at, ok := domain.TagTime(tag, now.Location())
	if !ok {
		at = now
	}
	uc.muted[key] = at
	return true
}

func (uc *ProactiveUsecase) pruneSuppressed(now time.Time) {
	cutoff := now.Add(-domain.TagRetention)
	for key, at := range uc.muted {
		if at.Before(cutoff) {
			delete(uc.muted, key)
		}
	}
}

// LastTick returns the most recent evaluation summary, nil before the first pass
func (uc *ProactiveUsecase) LastTick() *TickResult {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.lastTick
}

// Deliver resolves context, generates and sends one proactive message.
// It runs outside the state lock apart from the LastBotAt write-back.
func (uc *ProactiveUsecase) Deliver(ctx context.Context, ev *domain.Event, cfg *domain.Settings) error {
	now := uc.registry.Now()
	res := uc.contexts.Resolve(ctx, ev.SessionID, cfg)
	prompt := RenderPrompt(ev, res, cfg, now)

	reply, err := uc.llm.GenerateReply(ctx, repo.GenerateRequest{
		Prompt:   prompt,
		History:  res.History,
		Persona:  res.Persona,
		Provider: cfg.ProviderOverride,
	})
	if err != nil {
		return fmt.Errorf("generate reply: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return ErrEmptyReply
	}

	text := DecorateReply(ev, reply, cfg, now)
	if err := uc.messages.SendText(ctx, ev.SessionID, text); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	if err := uc.touchBot(ctx, ev.SessionID, now); err != nil {
		log.Warnf(ctx, "record last bot time for %s: %v", ev.SessionID, err)
	}
	if uc.convRepo != nil {
		if err := uc.convRepo.AppendHistory(ctx, ev.SessionID, prompt, reply); err != nil {
			log.Warnf(ctx, "append history for %s: %v", ev.SessionID, err)
		}
	}
	if uc.cacheRepo != nil {
		if err := uc.cacheRepo.Push(ctx, ev.SessionID, domain.Turn{Role: domain.RoleAssistant, Text: reply}); err != nil {
			log.Warnf(ctx, "cache push for %s: %v", ev.SessionID, err)
		}
	}
	return nil
}

// touchBot updates LastBotAt of a known session; reminders for sessions
// that were never observed do not create one.
func (uc *ProactiveUsecase) touchBot(ctx context.Context, sessionID string, at time.Time) error {
	return uc.registry.Do(func() error {
		s, err := uc.registry.sessions.Get(ctx, sessionID)
		if err != nil || s == nil {
			return err
		}
		s.LastBotAt = at
		s.UpdatedAt = at
		return uc.registry.sessions.Save(ctx, s)
	})
}
