package usecase

import (
	"context"
	"fmt"
	"time"

	"goa.design/clue/log"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
)

// ReminderUsecase manages user reminders and collects the due ones
type ReminderUsecase struct {
	registry *Registry
	settings SettingsSource
}

// NewReminderUsecase creates a new reminder usecase
func NewReminderUsecase(registry *Registry, settings SettingsSource) *ReminderUsecase {
	return &ReminderUsecase{registry: registry, settings: settings}
}

// Add validates and stores a reminder. when is "YYYY-MM-DD HH:MM" or "HH:MM".
func (uc *ReminderUsecase) Add(ctx context.Context, sessionID, when, content string, daily bool, createdBy string) (*domain.Reminder, error) {
	cfg := uc.settings.Current()
	now := uc.registry.Now().In(cfg.Location)

	r, err := domain.NewReminder(sessionID, when, content, daily, now)
	if err != nil {
		return nil, err
	}
	r.CreatedBy = createdBy

	err = uc.registry.Do(func() error {
		if err := uc.registry.reminders.Create(ctx, r); err != nil {
			return fmt.Errorf("create reminder: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info(ctx, log.KV{K: "component", V: "reminder"}, log.KV{K: "msg", V: "reminder added"},
		log.KV{K: "session", V: sessionID}, log.KV{K: "id", V: r.ID}, log.KV{K: "at", V: r.FireAt})
	return r, nil
}

// List returns a session's reminders ordered by ID, fired one-shots included
func (uc *ReminderUsecase) List(ctx context.Context, sessionID string) ([]*domain.Reminder, error) {
	var out []*domain.Reminder
	err := uc.registry.Do(func() error {
		list, err := uc.registry.reminders.ListBySession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("list reminders: %w", err)
		}
		out = list
		return nil
	})
	return out, err
}

// Delete removes one reminder. Returns domain.ErrNotFound for unknown IDs.
func (uc *ReminderUsecase) Delete(ctx context.Context, sessionID string, id int64) error {
	return uc.registry.Do(func() error {
		return uc.registry.reminders.Delete(ctx, sessionID, id)
	})
}

// collectDue marks and returns reminder events due at now. Quiet hours use the
// owning session's effective window; a suppressed reminder is not marked and
// its minute is missed. Caller holds the state lock.
func (uc *ReminderUsecase) collectDue(ctx context.Context, now time.Time, cfg *domain.Settings, sessions map[string]*domain.SessionState) []domain.Event {
	if !cfg.Enabled || !cfg.RemindersEnabled {
		return nil
	}
	active, err := uc.registry.reminders.ListActive(ctx)
	if err != nil {
		log.Errorf(ctx, err, "list active reminders")
		return nil
	}

	var events []domain.Event
	for _, r := range active {
		if !r.Due(now) {
			continue
		}
		var override *domain.QuietHours
		if s := sessions[r.SessionID]; s != nil {
			override = s.QuietOverride
		}
		if domain.EffectiveQuietHours(override, cfg.Quiet).Suppresses(now) {
			log.Info(ctx, log.KV{K: "component", V: "reminder"}, log.KV{K: "msg", V: "reminder suppressed by quiet hours"},
				log.KV{K: "session", V: r.SessionID}, log.KV{K: "id", V: r.ID})
			continue
		}

		r.MarkFired(now)
		if err := uc.registry.reminders.Save(ctx, r); err != nil {
			// not marked durably, skip rather than risk a duplicate after restart
			log.Errorf(ctx, err, "save fired reminder %s#%d", r.SessionID, r.ID)
			continue
		}
		events = append(events, domain.Event{
			SessionID:  r.SessionID,
			Kind:       domain.TriggerReminder,
			Template:   cfg.Prompts.Reminder,
			At:         now,
			ReminderID: r.ID,
			Content:    r.Content,
		})
	}
	return events
}
