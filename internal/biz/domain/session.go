package domain

import (
	"sort"
	"time"
)

// SessionState is the durable per-chat scheduling state
type SessionState struct {
	SessionID        string
	Subscribed       bool
	AutoUnsubscribed bool // unsubscribed by inactivity, eligible for auto-resubscribe
	Unwatched        bool // explicitly unsubscribed, never auto-subscribed

	LastMessageAt time.Time // last inbound user message, zero if never seen
	LastBotAt     time.Time // last proactive message delivered
	InactiveSince time.Time // inactivity baseline, reset by inbound messages and subscribe

	IdleOverride  time.Duration // zero inherits the global baseline
	QuietOverride *QuietHours   // nil inherits the global window

	NoReplyDays int
	NextIdleAt  time.Time // zero until LastMessageAt is known
	FiredTags   map[string]struct{}

	UpdatedAt time.Time
}

// NewSessionState creates an unsubscribed session with empty state
func NewSessionState(sessionID string) *SessionState {
	return &SessionState{
		SessionID: sessionID,
		FiredTags: make(map[string]struct{}),
	}
}

// HasFired reports whether tag was already fired
func (s *SessionState) HasFired(tag string) bool {
	_, ok := s.FiredTags[tag]
	return ok
}

// MarkFired records tag as fired
func (s *SessionState) MarkFired(tag string) {
	if s.FiredTags == nil {
		s.FiredTags = make(map[string]struct{})
	}
	s.FiredTags[tag] = struct{}{}
}

// PruneTags drops tags older than retention relative to now.
// Tags whose time cannot be parsed are dropped as well.
func (s *SessionState) PruneTags(now time.Time, retention time.Duration) int {
	cutoff := now.Add(-retention)
	removed := 0
	for tag := range s.FiredTags {
		t, ok := TagTime(tag, now.Location())
		if !ok || t.Before(cutoff) {
			delete(s.FiredTags, tag)
			removed++
		}
	}
	return removed
}

// Tags returns fired tags in sorted order
func (s *SessionState) Tags() []string {
	tags := make([]string, 0, len(s.FiredTags))
	for tag := range s.FiredTags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// IdleThreshold returns the session override or the baseline
func (s *SessionState) IdleThreshold(baseline time.Duration) time.Duration {
	if s.IdleOverride > 0 {
		return s.IdleOverride
	}
	return baseline
}

// InactivityBaseline is the instant no-reply days are counted from: the
// later of the last inbound message and the last (re)subscription.
// Zero when neither is known.
func (s *SessionState) InactivityBaseline() time.Time {
	if s.InactiveSince.After(s.LastMessageAt) {
		return s.InactiveSince
	}
	return s.LastMessageAt
}

// Subscribe turns proactive messaging on. Returns false if already on.
func (s *SessionState) Subscribe() bool {
	s.AutoUnsubscribed = false
	s.Unwatched = false
	if s.Subscribed {
		return false
	}
	s.Subscribed = true
	return true
}

// Unsubscribe turns proactive messaging off. auto marks an inactivity
// unsubscribe. Returns false if already off; an explicit unsubscribe of an
// off session still records the opt-out.
func (s *SessionState) Unsubscribe(auto bool) bool {
	if !auto {
		s.AutoUnsubscribed = false
		s.Unwatched = true
	}
	if !s.Subscribed {
		return false
	}
	s.Subscribed = false
	s.AutoUnsubscribed = auto
	return true
}

// Clone returns a deep copy safe to hand outside the state lock
func (s *SessionState) Clone() *SessionState {
	c := *s
	if s.QuietOverride != nil {
		q := *s.QuietOverride
		c.QuietOverride = &q
	}
	c.FiredTags = make(map[string]struct{}, len(s.FiredTags))
	for tag := range s.FiredTags {
		c.FiredTags[tag] = struct{}{}
	}
	return &c
}
