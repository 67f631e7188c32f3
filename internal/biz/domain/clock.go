package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Layouts shared by tags, reminders and command parsing.
const (
	MinuteLayout    = "2006-01-02 15:04"
	DateLayout      = "2006-01-02"
	TimeOfDayLayout = "15:04"

	MinutesPerDay = 24 * 60
)

// Clock is the source of "now" for evaluation passes
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

// Now returns time.Now()
func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to Clock
type ClockFunc func() time.Time

// Now calls f
func (f ClockFunc) Now() time.Time { return f() }

// MinuteOfDay returns the minutes elapsed since local midnight of t
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// TruncateMinute drops seconds and below, keeping t's location
func TruncateMinute(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
}

// ParseTimeOfDay parses "HH:MM" (full-width colon accepted) into a minute of day
func ParseTimeOfDay(s string) (int, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, "：", ":"))
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, &ValidationError{Field: "time", Message: fmt.Sprintf("%q is not HH:MM", s)}
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, &ValidationError{Field: "time", Message: fmt.Sprintf("invalid hour in %q", s)}
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || len(parts[1]) != 2 {
		return 0, &ValidationError{Field: "time", Message: fmt.Sprintf("invalid minute in %q", s)}
	}
	return h*60 + m, nil
}

// FormatTimeOfDay renders a minute of day as "HH:MM"
func FormatTimeOfDay(minute int) string {
	minute = ((minute % MinutesPerDay) + MinutesPerDay) % MinutesPerDay
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
