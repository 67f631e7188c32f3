package domain

import (
	"fmt"
	"strings"
	"time"
)

// ReminderKind distinguishes one-shot and recurring reminders
type ReminderKind string

const (
	ReminderOnce  ReminderKind = "once"
	ReminderDaily ReminderKind = "daily"
)

// Reminder is a user-scheduled prompt delivered at a given minute.
// FireAt is "2006-01-02 15:04" for one-shot reminders and "15:04" for daily ones.
type Reminder struct {
	ID            int64        `json:"id"`
	SessionID     string       `json:"session_id"`
	Kind          ReminderKind `json:"kind"`
	FireAt        string       `json:"fire_at"`
	Content       string       `json:"content"`
	Fired         bool         `json:"fired"`
	LastFiredDate string       `json:"last_fired_date,omitempty"`
	CreatedBy     string       `json:"created_by,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// NewReminder validates input and builds an unsaved reminder.
// when is "YYYY-MM-DD HH:MM" or "HH:MM". A bare time without daily becomes a
// one-shot at its next occurrence after now.
func NewReminder(sessionID, when, content string, daily bool, now time.Time) (*Reminder, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, &ValidationError{Field: "content", Message: "reminder text is empty"}
	}
	when = strings.TrimSpace(strings.ReplaceAll(when, "：", ":"))

	r := &Reminder{
		SessionID: sessionID,
		Content:   content,
		CreatedAt: now,
	}

	if at, err := time.ParseInLocation(MinuteLayout, when, now.Location()); err == nil {
		if daily {
			r.Kind = ReminderDaily
			r.FireAt = at.Format(TimeOfDayLayout)
			return r, nil
		}
		if !at.After(TruncateMinute(now)) {
			return nil, &ValidationError{Field: "time", Message: fmt.Sprintf("%s is in the past", when)}
		}
		r.Kind = ReminderOnce
		r.FireAt = at.Format(MinuteLayout)
		return r, nil
	}

	minute, err := ParseTimeOfDay(when)
	if err != nil {
		return nil, &ValidationError{Field: "time", Message: fmt.Sprintf("%q is neither YYYY-MM-DD HH:MM nor HH:MM", when)}
	}
	if daily {
		r.Kind = ReminderDaily
		r.FireAt = FormatTimeOfDay(minute)
		return r, nil
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), minute/60, minute%60, 0, 0, now.Location())
	if !today.After(TruncateMinute(now)) {
		today = today.AddDate(0, 0, 1)
	}
	r.Kind = ReminderOnce
	r.FireAt = today.Format(MinuteLayout)
	return r, nil
}

// Due reports whether the reminder fires at now. The comparison is on the
// formatted local minute, so a tick skipped by a pause is a silent miss.
func (r *Reminder) Due(now time.Time) bool {
	switch r.Kind {
	case ReminderOnce:
		return !r.Fired && now.Format(MinuteLayout) == r.FireAt
	case ReminderDaily:
		return now.Format(TimeOfDayLayout) == r.FireAt && r.LastFiredDate != now.Format(DateLayout)
	}
	return false
}

// MarkFired records a firing at now
func (r *Reminder) MarkFired(now time.Time) {
	switch r.Kind {
	case ReminderOnce:
		r.Fired = true
	case ReminderDaily:
		r.LastFiredDate = now.Format(DateLayout)
	}
}

// Exhausted reports whether the reminder can never fire again
func (r *Reminder) Exhausted() bool {
	return r.Kind == ReminderOnce && r.Fired
}

// Describe renders one line of "remind list" output
func (r *Reminder) Describe() string {
	at := r.FireAt
	if r.Kind == ReminderDaily {
		at = "daily " + at
	}
	status := ""
	if r.Exhausted() {
		status = " (fired)"
	}
	return fmt.Sprintf("%d | %s | %s%s", r.ID, at, r.Content, status)
}
