package repo

import (
	"context"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
)

// SessionRepo is the session registry interface
// Responsible for SessionState persistence (SQLite)
type SessionRepo interface {
	// Get gets a session by ID, returns nil if it does not exist
	Get(ctx context.Context, sessionID string) (*domain.SessionState, error)

	// Save saves a session (create or update)
	Save(ctx context.Context, session *domain.SessionState) error

	// Delete deletes a session
	Delete(ctx context.Context, sessionID string) error

	// ListAll lists all sessions. Rows that fail to decode are skipped.
	ListAll(ctx context.Context) ([]*domain.SessionState, error)
}
