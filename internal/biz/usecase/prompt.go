package usecase

import (
	"strings"
	"time"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
)

// ReminderPrefix marks delivered reminder messages
const ReminderPrefix = "⏰ "

// RenderPrompt fills the placeholders of a trigger template.
// An empty template falls back to the reminder text or a generic nudge.
func RenderPrompt(ev *domain.Event, res *Resolution, cfg *domain.Settings, now time.Time) string {
	tpl := ev.Template
	if strings.TrimSpace(tpl) == "" {
		if ev.Kind == domain.TriggerReminder {
			tpl = "{{reminder}}"
		} else {
			tpl = "Start a short, friendly conversation with the user."
		}
	}

	var history []domain.Turn
	if res != nil {
		history = res.History
	}
	r := strings.NewReplacer(
		"{{now}}", now.In(cfg.Location).Format(cfg.TimeFormat),
		"{{last_user}}", domain.LastText(history, domain.RoleUser),
		"{{last_ai}}", domain.LastText(history, domain.RoleAssistant),
		"{{session_id}}", ev.SessionID,
		"{{reminder}}", ev.Content,
	)
	return r.Replace(tpl)
}

// DecorateReply applies the reminder prefix and the optional time field
func DecorateReply(ev *domain.Event, reply string, cfg *domain.Settings, now time.Time) string {
	if ev.Kind == domain.TriggerReminder {
		reply = ReminderPrefix + reply
	}
	if cfg.AppendTimeField {
		reply = "[" + now.In(cfg.Location).Format(cfg.TimeFormat) + "] " + reply
	}
	return reply
}
