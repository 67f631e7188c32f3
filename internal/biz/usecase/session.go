package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
	"github.com/DevRickLin/feishu-nudge/internal/biz/repo"
)

// SettingsSource publishes Settings snapshots
type SettingsSource interface {
	Current() *domain.Settings
	Update(ctx context.Context, fn func(*domain.Settings) error) (*domain.Settings, error)
}

// Registry owns the session registry and the reminder store. Every
// read-modify-write of either goes through Do, so an evaluation pass and a
// command never interleave.
type Registry struct {
	mu        sync.Mutex
	sessions  repo.SessionRepo
	reminders repo.ReminderRepo
	clock     domain.Clock
}

// NewRegistry creates a new registry. A nil clock reads the wall clock.
func NewRegistry(sessions repo.SessionRepo, reminders repo.ReminderRepo, clock domain.Clock) *Registry {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Registry{sessions: sessions, reminders: reminders, clock: clock}
}

// Now returns the registry clock's current time
func (r *Registry) Now() time.Time {
	return r.clock.Now()
}

// Do runs fn while holding the state lock
func (r *Registry) Do(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn()
}

// load gets a session or builds a fresh one. Caller holds the lock.
func (r *Registry) load(ctx context.Context, sessionID string) (*domain.SessionState, bool, error) {
	s, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, false, fmt.Errorf("get session: %w", err)
	}
	if s == nil {
		return domain.NewSessionState(sessionID), true, nil
	}
	return s, false, nil
}

// Session returns a copy of one session, nil if unknown
func (r *Registry) Session(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	var out *domain.SessionState
	err := r.Do(func() error {
		s, err := r.sessions.Get(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		if s != nil {
			out = s.Clone()
		}
		return nil
	})
	return out, err
}

// Sessions returns copies of all sessions ordered by ID
func (r *Registry) Sessions(ctx context.Context) ([]*domain.SessionState, error) {
	var out []*domain.SessionState
	err := r.Do(func() error {
		all, err := r.sessions.ListAll(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		for _, s := range all {
			out = append(out, s.Clone())
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, err
}

// Mutate loads (or creates) a session, applies fn and saves it
func (r *Registry) Mutate(ctx context.Context, sessionID string, fn func(s *domain.SessionState, created bool) error) (*domain.SessionState, error) {
	var out *domain.SessionState
	err := r.Do(func() error {
		s, created, err := r.load(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := fn(s, created); err != nil {
			return err
		}
		if err := r.sessions.Save(ctx, s); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		out = s.Clone()
		return nil
	})
	return out, err
}
