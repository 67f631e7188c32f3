package domain

import (
	"fmt"
	"strings"
	"time"
)

// QuietHours is a minute-of-day window during which nothing proactive is sent.
// Start > End wraps past midnight. Start == End is an empty window.
type QuietHours struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ParseQuietHours parses "HH:MM-HH:MM"
func ParseQuietHours(s string) (QuietHours, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return QuietHours{}, &ValidationError{Field: "quiet", Message: fmt.Sprintf("%q is not HH:MM-HH:MM", s)}
	}
	start, err := ParseTimeOfDay(parts[0])
	if err != nil {
		return QuietHours{}, &ValidationError{Field: "quiet", Message: err.Error()}
	}
	end, err := ParseTimeOfDay(parts[1])
	if err != nil {
		return QuietHours{}, &ValidationError{Field: "quiet", Message: err.Error()}
	}
	return QuietHours{Start: start, End: end}, nil
}

// String renders the window as "HH:MM-HH:MM"
func (q QuietHours) String() string {
	if q.IsEmpty() {
		return "off"
	}
	return FormatTimeOfDay(q.Start) + "-" + FormatTimeOfDay(q.End)
}

// IsEmpty reports whether the window never suppresses
func (q QuietHours) IsEmpty() bool {
	return q.Start == q.End
}

// Contains reports whether minute (0..1439) falls inside the window
func (q QuietHours) Contains(minute int) bool {
	switch {
	case q.Start == q.End:
		return false
	case q.Start < q.End:
		return minute >= q.Start && minute < q.End
	default:
		return minute >= q.Start || minute < q.End
	}
}

// Suppresses reports whether a trigger at t (already in local time) is muted
func (q QuietHours) Suppresses(t time.Time) bool {
	return q.Contains(MinuteOfDay(t))
}

// EffectiveQuietHours picks the session override when present, otherwise the
// global window. The two are never merged.
func EffectiveQuietHours(override *QuietHours, global QuietHours) QuietHours {
	if override != nil {
		return *override
	}
	return global
}
