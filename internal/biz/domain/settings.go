package domain

import (
	"fmt"
	"slices"
	"time"
)

// Subscribe modes
const (
	SubscribeManual = "manual"
	SubscribeAuto   = "auto"
)

// PromptTemplates holds the prompt texts used to phrase proactive messages.
// Placeholders: {{now}} {{last_user}} {{last_ai}} {{session_id}} {{reminder}}
type PromptTemplates struct {
	Idle     []string
	Reminder string
}

// Settings is an immutable snapshot of process-wide scheduling configuration.
// It is published whole and never mutated after publication; use Clone to
// derive a changed copy.
type Settings struct {
	Enabled       bool
	Timezone      string
	Location      *time.Location
	SubscribeMode string

	IdleEnabled       bool
	IdleBaseline      time.Duration
	IdleJitterPercent int
	IdleMinimum       time.Duration

	DailyEnabled bool
	Slots        []DailySlot

	Quiet QuietHours

	HistoryDepth     int
	DispatchInterval time.Duration
	DispatchTimeout  time.Duration

	AutoResubscribe bool
	MaxNoReplyDays  int

	RemindersEnabled bool

	PersonaOverride  string
	ProviderOverride string

	AppendTimeField bool
	TimeFormat      string

	Admins  []string
	Prompts PromptTemplates
}

// DefaultSettings returns the built-in defaults
func DefaultSettings() *Settings {
	return &Settings{
		Enabled:           true,
		Timezone:          "Local",
		Location:          time.Local,
		SubscribeMode:     SubscribeManual,
		IdleEnabled:       true,
		IdleBaseline:      45 * time.Minute,
		IdleJitterPercent: 10,
		IdleMinimum:       30 * time.Minute,
		DailyEnabled:      true,
		Slots: []DailySlot{
			{Index: 1, Minute: 9 * 60},
			{Index: 2, Minute: 12 * 60},
			{Index: 3, Minute: 20 * 60},
		},
		HistoryDepth:     8,
		DispatchInterval: 10 * time.Second,
		DispatchTimeout:  60 * time.Second,
		AutoResubscribe:  true,
		RemindersEnabled: true,
		TimeFormat:       MinuteLayout,
		Prompts: PromptTemplates{
			Idle:     []string{"It is {{now}}. The user has been quiet for a while. Start a light, natural conversation based on what you talked about last."},
			Reminder: "User reminder: {{reminder}}",
		},
	}
}

// Clone returns a deep copy
func (s *Settings) Clone() *Settings {
	c := *s
	c.Slots = slices.Clone(s.Slots)
	c.Admins = slices.Clone(s.Admins)
	c.Prompts.Idle = slices.Clone(s.Prompts.Idle)
	return &c
}

// Normalize resolves defaults once and deduplicates slot minutes
func (s *Settings) Normalize() {
	if s.Location == nil {
		s.Location = time.Local
	}
	if s.SubscribeMode != SubscribeAuto {
		s.SubscribeMode = SubscribeManual
	}
	if s.IdleJitterPercent < 0 {
		s.IdleJitterPercent = 0
	}
	if s.IdleJitterPercent > 50 {
		s.IdleJitterPercent = 50
	}
	if s.IdleBaseline < s.IdleMinimum {
		s.IdleBaseline = s.IdleMinimum
	}
	if s.HistoryDepth < 0 {
		s.HistoryDepth = 0
	}
	if s.DispatchInterval < 0 {
		s.DispatchInterval = 0
	}
	if s.DispatchTimeout <= 0 {
		s.DispatchTimeout = 60 * time.Second
	}
	if s.MaxNoReplyDays < 0 {
		s.MaxNoReplyDays = 0
	}
	if s.TimeFormat == "" {
		s.TimeFormat = MinuteLayout
	}
	if len(s.Slots) > MaxDailySlots {
		s.Slots = s.Slots[:MaxDailySlots]
	}
	for i := range s.Slots {
		s.Slots[i].Index = i + 1
	}
	s.Slots = NormalizeSlots(s.Slots)
}

// Validate checks values that cannot be silently corrected
func (s *Settings) Validate() error {
	if s.IdleBaseline <= 0 {
		return &ValidationError{Field: "idle.minutes", Message: "must be positive"}
	}
	for _, slot := range s.Slots {
		if slot.Minute < 0 || slot.Minute >= MinutesPerDay {
			return &ValidationError{Field: fmt.Sprintf("daily.slot%d.time", slot.Index), Message: "out of range"}
		}
	}
	return nil
}

// IsAdmin reports whether userID may run admin commands
func (s *Settings) IsAdmin(userID string) bool {
	return userID != "" && slices.Contains(s.Admins, userID)
}

// Slot returns the 1-based daily slot, or nil
func (s *Settings) Slot(index int) *DailySlot {
	for i := range s.Slots {
		if s.Slots[i].Index == index {
			return &s.Slots[i]
		}
	}
	return nil
}
