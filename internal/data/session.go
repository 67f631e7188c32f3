package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"goa.design/clue/log"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
	"github.com/DevRickLin/feishu-nudge/internal/biz/repo"
)

// sessionRepo implements the Session repository
type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new Session repository
func NewSessionRepo(db *sql.DB) (repo.SessionRepo, error) {
	// Create table
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			subscribed INTEGER NOT NULL DEFAULT 0,
			auto_unsubscribed INTEGER NOT NULL DEFAULT 0,
			unwatched INTEGER NOT NULL DEFAULT 0,
			last_message_at INTEGER NOT NULL DEFAULT 0,
			last_bot_at INTEGER NOT NULL DEFAULT 0,
			inactive_since INTEGER NOT NULL DEFAULT 0,
			idle_override_seconds INTEGER NOT NULL DEFAULT 0,
			has_quiet_override INTEGER NOT NULL DEFAULT 0,
			quiet_start INTEGER NOT NULL DEFAULT 0,
			quiet_end INTEGER NOT NULL DEFAULT 0,
			no_reply_days INTEGER NOT NULL DEFAULT 0,
			next_idle_at INTEGER NOT NULL DEFAULT 0,
			fired_tags TEXT NOT NULL DEFAULT '[]',
			updated_at INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_subscribed ON sessions(subscribed)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	// Add auto_unsubscribed column (if not exists) - for databases created before inactivity unsubscribe
	_, _ = db.Exec(`ALTER TABLE sessions ADD COLUMN auto_unsubscribed INTEGER NOT NULL DEFAULT 0`)
	// Explicit opt-out and inactivity baseline, zero for older rows
	_, _ = db.Exec(`ALTER TABLE sessions ADD COLUMN unwatched INTEGER NOT NULL DEFAULT 0`)
	_, _ = db.Exec(`ALTER TABLE sessions ADD COLUMN inactive_since INTEGER NOT NULL DEFAULT 0`)

	return &sessionRepo{db: db}, nil
}

const sessionColumns = `session_id, subscribed, auto_unsubscribed, unwatched, last_message_at, last_bot_at,
	inactive_since, idle_override_seconds, has_quiet_override, quiet_start, quiet_end,
	no_reply_days, next_idle_at, fired_tags, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession decodes one row. A fired_tags column that fails to decode is
// reported through tagsErr and yields an empty tag set.
func scanSession(row rowScanner) (s *domain.SessionState, tagsErr error, err error) {
	var (
		subscribed, autoUnsub, unwatched, hasQuiet               int
		lastMsg, lastBot, inactive, idleOverride, nextIdle, upd int64
		quietStart, quietEnd                                    int
		tags                                                    string
	)
	s = domain.NewSessionState("")
	err = row.Scan(&s.SessionID, &subscribed, &autoUnsub, &unwatched, &lastMsg, &lastBot,
		&inactive, &idleOverride, &hasQuiet, &quietStart, &quietEnd,
		&s.NoReplyDays, &nextIdle, &tags, &upd)
	if err != nil {
		return nil, nil, err
	}

	s.Subscribed = subscribed != 0
	s.AutoUnsubscribed = autoUnsub != 0
	s.Unwatched = unwatched != 0
	s.LastMessageAt = fromUnix(lastMsg)
	s.LastBotAt = fromUnix(lastBot)
	s.InactiveSince = fromUnix(inactive)
	s.IdleOverride = time.Duration(idleOverride) * time.Second
	if hasQuiet != 0 {
		s.QuietOverride = &domain.QuietHours{Start: quietStart, End: quietEnd}
	}
	s.NextIdleAt = fromUnix(nextIdle)
	s.UpdatedAt = fromUnix(upd)

	var list []string
	if err := json.Unmarshal([]byte(tags), &list); err != nil {
		return s, err, nil
	}
	for _, tag := range list {
		s.MarkFired(tag)
	}
	return s, nil, nil
}

// Get gets a session by ID
func (r *sessionRepo) Get(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)

	s, tagsErr, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	if tagsErr != nil {
		log.Warnf(ctx, "session %s has unreadable fired tags, treating as empty: %v", sessionID, tagsErr)
	}
	return s, nil
}

// Save saves a session
func (r *sessionRepo) Save(ctx context.Context, s *domain.SessionState) error {
	tags, err := json.Marshal(s.Tags())
	if err != nil {
		return fmt.Errorf("failed to encode fired tags: %w", err)
	}
	hasQuiet, quietStart, quietEnd := 0, 0, 0
	if s.QuietOverride != nil {
		hasQuiet, quietStart, quietEnd = 1, s.QuietOverride.Start, s.QuietOverride.End
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.SessionID,
		boolInt(s.Subscribed),
		boolInt(s.AutoUnsubscribed),
		boolInt(s.Unwatched),
		toUnix(s.LastMessageAt),
		toUnix(s.LastBotAt),
		toUnix(s.InactiveSince),
		int64(s.IdleOverride/time.Second),
		hasQuiet, quietStart, quietEnd,
		s.NoReplyDays,
		toUnix(s.NextIdleAt),
		string(tags),
		toUnix(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete deletes a session
func (r *sessionRepo) Delete(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListAll lists all sessions, skipping rows that cannot be decoded
func (r *sessionRepo) ListAll(ctx context.Context) ([]*domain.SessionState, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.SessionState
	for rows.Next() {
		s, tagsErr, err := scanSession(rows)
		if err != nil {
			log.Warnf(ctx, "skipping unreadable session row: %v", err)
			continue
		}
		if tagsErr != nil {
			log.Warnf(ctx, "session %s has unreadable fired tags, treating as empty: %v", s.SessionID, tagsErr)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}
