package repo

import (
	"context"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
)

// ReminderRepo is the reminder store interface
type ReminderRepo interface {
	// Create assigns the next per-session ID and saves the reminder
	Create(ctx context.Context, r *domain.Reminder) error

	// Save updates fired state of an existing reminder
	Save(ctx context.Context, r *domain.Reminder) error

	// Delete removes a reminder, returns domain.ErrNotFound if absent
	Delete(ctx context.Context, sessionID string, id int64) error

	// ListBySession lists reminders of one session ordered by ID
	ListBySession(ctx context.Context, sessionID string) ([]*domain.Reminder, error)

	// ListActive lists reminders that can still fire
	ListActive(ctx context.Context) ([]*domain.Reminder, error)
}
