package data

import (
	"context"
	"database/sql"
	"fmt"

	"goa.design/clue/log"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
	"github.com/DevRickLin/feishu-nudge/internal/biz/repo"
)

// reminderRepo implements the Reminder repository
type reminderRepo struct {
	db *sql.DB
}

// NewReminderRepo creates a new Reminder repository
func NewReminderRepo(db *sql.DB) (repo.ReminderRepo, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS reminders (
			session_id TEXT NOT NULL,
			id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			fire_at TEXT NOT NULL,
			content TEXT NOT NULL,
			fired INTEGER NOT NULL DEFAULT 0,
			last_fired_date TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			PRIMARY KEY (session_id, id)
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create reminders table: %w", err)
	}
	return &reminderRepo{db: db}, nil
}

const reminderColumns = `session_id, id, kind, fire_at, content, fired, last_fired_date, created_by, created_at`

func scanReminder(row rowScanner) (*domain.Reminder, error) {
	var r domain.Reminder
	var kind string
	var fired int
	var createdAt int64
	if err := row.Scan(&r.SessionID, &r.ID, &kind, &r.FireAt, &r.Content, &fired, &r.LastFiredDate, &r.CreatedBy, &createdAt); err != nil {
		return nil, err
	}
	r.Kind = domain.ReminderKind(kind)
	r.Fired = fired != 0
	r.CreatedAt = fromUnix(createdAt)
	return &r, nil
}

// Create assigns the next per-session ID and inserts the reminder
func (r *reminderRepo) Create(ctx context.Context, rem *domain.Reminder) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM reminders WHERE session_id = ?`, rem.SessionID).Scan(&next); err != nil {
		return fmt.Errorf("failed to allocate reminder id: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO reminders (`+reminderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rem.SessionID, next, string(rem.Kind), rem.FireAt, rem.Content,
		boolInt(rem.Fired), rem.LastFiredDate, rem.CreatedBy, toUnix(rem.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert reminder: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reminder: %w", err)
	}
	rem.ID = next
	return nil
}

// Save updates the fired state of a reminder
func (r *reminderRepo) Save(ctx context.Context, rem *domain.Reminder) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reminders SET fired = ?, last_fired_date = ? WHERE session_id = ? AND id = ?
	`, boolInt(rem.Fired), rem.LastFiredDate, rem.SessionID, rem.ID)
	if err != nil {
		return fmt.Errorf("failed to save reminder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a reminder
func (r *reminderRepo) Delete(ctx context.Context, sessionID string, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM reminders WHERE session_id = ? AND id = ?`, sessionID, id)
	if err != nil {
		return fmt.Errorf("failed to delete reminder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListBySession lists a session's reminders ordered by ID
func (r *reminderRepo) ListBySession(ctx context.Context, sessionID string) ([]*domain.Reminder, error) {
	return r.list(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE session_id = ? ORDER BY id`, sessionID)
}

// ListActive lists reminders that can still fire
func (r *reminderRepo) ListActive(ctx context.Context) ([]*domain.Reminder, error) {
	return r.list(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE NOT (kind = ? AND fired = 1) ORDER BY session_id, id`,
		string(domain.ReminderOnce))
}

func (r *reminderRepo) list(ctx context.Context, query string, args ...any) ([]*domain.Reminder, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	defer rows.Close()

	var out []*domain.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			log.Warnf(ctx, "skipping unreadable reminder row: %v", err)
			continue
		}
		out = append(out, rem)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reminders: %w", err)
	}
	return out, nil
}
