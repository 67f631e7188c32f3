package domain

import (
	"fmt"
	"strings"
	"time"
)

// TriggerKind identifies what caused a proactive event
type TriggerKind string

const (
	TriggerIdle     TriggerKind = "idle"
	TriggerDaily    TriggerKind = "daily"
	TriggerReminder TriggerKind = "reminder"
)

// TagRetention bounds how long fired tags are remembered
const TagRetention = 7 * 24 * time.Hour

// Event is one due proactive message collected during a tick
type Event struct {
	SessionID string
	Kind      TriggerKind
	Slot      int    // daily slot, 1-based
	Tag       string // empty for reminders
	Template  string // prompt template to render
	At        time.Time

	// Reminder fields
	ReminderID int64
	Content    string
}

// Label is a short human-readable name for logs
func (e *Event) Label() string {
	switch e.Kind {
	case TriggerDaily:
		return fmt.Sprintf("daily%d", e.Slot)
	case TriggerReminder:
		return fmt.Sprintf("reminder#%d", e.ReminderID)
	default:
		return string(e.Kind)
	}
}

// IdleTag builds the dedup key for an idle firing at t
func IdleTag(t time.Time) string {
	return string(TriggerIdle) + ":" + t.Format(MinuteLayout)
}

// DailyTag builds the dedup key for daily slot n firing at t
func DailyTag(slot int, t time.Time) string {
	return fmt.Sprintf("%s%d:%s", TriggerDaily, slot, t.Format(MinuteLayout))
}

// TagTime extracts the minute a tag was fired, interpreted in loc
func TagTime(tag string, loc *time.Location) (time.Time, bool) {
	idx := strings.Index(tag, ":")
	if idx < 0 {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(MinuteLayout, tag[idx+1:], loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
