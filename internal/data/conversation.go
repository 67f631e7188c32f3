package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"goa.design/clue/log"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
	"github.com/DevRickLin/feishu-nudge/internal/biz/repo"
)

// maxStoredTurns bounds conversation_turns per session
const maxStoredTurns = 200

// conversationRepo implements the conversation-history store
type conversationRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewConversationRepo creates a new conversation repository
func NewConversationRepo(db *sql.DB) (repo.ConversationRepo, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversation_turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation_turns table: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_turns_session ON conversation_turns(session_id, id)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	return &conversationRepo{db: db, now: time.Now}, nil
}

// GetHistory returns the stored turns of a session, oldest first
func (r *conversationRepo) GetHistory(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT role, text FROM conversation_turns WHERE session_id = ? ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var role, text string
		if err := rows.Scan(&role, &text); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		parsed, ok := domain.ParseRole(role)
		if !ok {
			log.Debugf(ctx, "dropping turn with unknown role %q", role)
			continue
		}
		turns = append(turns, domain.Turn{Role: parsed, Text: text})
	}
	return turns, rows.Err()
}

// AppendHistory appends a (user, assistant) exchange
func (r *conversationRepo) AppendHistory(ctx context.Context, sessionID, userText, assistantText string) error {
	return r.append(ctx, sessionID,
		domain.Turn{Role: domain.RoleUser, Text: userText},
		domain.Turn{Role: domain.RoleAssistant, Text: assistantText})
}

// AppendTurn appends one observed turn
func (r *conversationRepo) AppendTurn(ctx context.Context, sessionID string, turn domain.Turn) error {
	return r.append(ctx, sessionID, turn)
}

func (r *conversationRepo) append(ctx context.Context, sessionID string, turns ...domain.Turn) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := r.now().Unix()
	for _, t := range turns {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_turns (session_id, role, text, created_at) VALUES (?, ?, ?, ?)
		`, sessionID, string(t.Role), t.Text, now); err != nil {
			return fmt.Errorf("failed to insert turn: %w", err)
		}
	}

	// keep only the newest maxStoredTurns
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM conversation_turns
		WHERE session_id = ? AND id NOT IN (
			SELECT id FROM conversation_turns WHERE session_id = ? ORDER BY id DESC LIMIT ?
		)
	`, sessionID, sessionID, maxStoredTurns); err != nil {
		return fmt.Errorf("failed to trim history: %w", err)
	}
	return tx.Commit()
}
