package usecase

import (
	"math/rand/v2"
	"time"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
)

// Random is the randomness used for idle jitter and template choice.
// *rand.Rand from math/rand/v2 satisfies it.
type Random interface {
	Int64N(n int64) int64
	IntN(n int) int
}

// NewRandom returns a seeded PCG source
func NewRandom() Random {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// TriggerEvaluator decides which idle and daily triggers are due for a session.
// It touches nothing but the SessionState it is given.
type TriggerEvaluator struct {
	rnd Random
}

// NewTriggerEvaluator creates a trigger evaluator
func NewTriggerEvaluator(rnd Random) *TriggerEvaluator {
	if rnd == nil {
		rnd = NewRandom()
	}
	return &TriggerEvaluator{rnd: rnd}
}

// Evaluation is the outcome of evaluating one session
type Evaluation struct {
	Events     []domain.Event
	Suppressed []string // tags skipped by quiet hours, not marked fired. Idle uses the deadline minute.
	Pruned     int
}

// ScheduleIdle sets NextIdleAt to from plus the session's threshold with
// jitter rolled once. The result is always at least one minute after from.
func (e *TriggerEvaluator) ScheduleIdle(s *domain.SessionState, from time.Time, cfg *domain.Settings) {
	threshold := s.IdleThreshold(cfg.IdleBaseline)
	d := threshold + e.jitter(threshold, cfg.IdleJitterPercent)

	floor := cfg.IdleMinimum
	if threshold < floor {
		floor = threshold
	}
	if d < floor {
		d = floor
	}
	if d < time.Minute {
		d = time.Minute
	}
	s.NextIdleAt = from.Add(d)
}

// jitter returns a uniform offset in [-threshold*percent/100, +threshold*percent/100]
func (e *TriggerEvaluator) jitter(threshold time.Duration, percent int) time.Duration {
	if percent <= 0 {
		return 0
	}
	span := int64(threshold) * int64(percent) / 100
	if span <= 0 {
		return 0
	}
	return time.Duration(e.rnd.Int64N(2*span+1) - span)
}

// Evaluate returns due events for s at now and records their tags.
// Tags older than the retention window are pruned on every call.
func (e *TriggerEvaluator) Evaluate(now time.Time, s *domain.SessionState, cfg *domain.Settings) Evaluation {
	var res Evaluation
	now = now.In(cfg.Location)
	res.Pruned = s.PruneTags(now, domain.TagRetention)

	if !cfg.Enabled || !s.Subscribed {
		return res
	}

	quiet := domain.EffectiveQuietHours(s.QuietOverride, cfg.Quiet)
	muted := quiet.Suppresses(now)

	if cfg.IdleEnabled && !s.NextIdleAt.IsZero() && !now.Before(s.NextIdleAt) {
		tag := domain.IdleTag(now)
		switch {
		case s.HasFired(tag):
		case muted:
			// deadline stays put so it fires once the window closes; the
			// suppression is keyed by the deadline, not the tick
			res.Suppressed = append(res.Suppressed, domain.IdleTag(s.NextIdleAt.In(cfg.Location)))
		default:
			s.MarkFired(tag)
			e.ScheduleIdle(s, now, cfg)
			res.Events = append(res.Events, domain.Event{
				SessionID: s.SessionID,
				Kind:      domain.TriggerIdle,
				Tag:       tag,
				Template:  e.pickIdleTemplate(cfg),
				At:        now,
			})
		}
	}

	if cfg.DailyEnabled {
		minute := domain.MinuteOfDay(now)
		for _, slot := range cfg.Slots {
			if !slot.Enabled || slot.Minute != minute {
				continue
			}
			tag := domain.DailyTag(slot.Index, now)
			if s.HasFired(tag) {
				continue
			}
			if muted {
				res.Suppressed = append(res.Suppressed, tag)
				continue
			}
			s.MarkFired(tag)
			res.Events = append(res.Events, domain.Event{
				SessionID: s.SessionID,
				Kind:      domain.TriggerDaily,
				Slot:      slot.Index,
				Tag:       tag,
				Template:  slot.Prompt,
				At:        now,
			})
		}
	}

	return res
}

func (e *TriggerEvaluator) pickIdleTemplate(cfg *domain.Settings) string {
	templates := cfg.Prompts.Idle
	switch len(templates) {
	case 0:
		return ""
	case 1:
		return templates[0]
	}
	return templates[e.rnd.IntN(len(templates))]
}
