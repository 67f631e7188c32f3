package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
	"github.com/DevRickLin/feishu-nudge/internal/biz/repo"
)

// personaRepo stores session-bound personas; the default comes from prompts.yaml
type personaRepo struct {
	db  *sql.DB
	def domain.Persona
}

// NewPersonaRepo creates a new persona repository
func NewPersonaRepo(db *sql.DB, def domain.Persona) (repo.PersonaRepo, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS personas (
			session_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			prompt TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create personas table: %w", err)
	}
	return &personaRepo{db: db, def: def}, nil
}

// GetPersona returns the persona bound to a session
func (r *personaRepo) GetPersona(ctx context.Context, sessionID string) (*domain.Persona, error) {
	var p domain.Persona
	err := r.db.QueryRowContext(ctx, `SELECT name, prompt FROM personas WHERE session_id = ?`, sessionID).Scan(&p.Name, &p.Prompt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query persona: %w", err)
	}
	return &p, nil
}

// SetPersona binds a persona to a session; an empty prompt unbinds
func (r *personaRepo) SetPersona(ctx context.Context, sessionID string, p domain.Persona) error {
	if p.IsZero() {
		_, err := r.db.ExecContext(ctx, `DELETE FROM personas WHERE session_id = ?`, sessionID)
		if err != nil {
			return fmt.Errorf("failed to delete persona: %w", err)
		}
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO personas (session_id, name, prompt, updated_at) VALUES (?, ?, ?, ?)
	`, sessionID, p.Name, p.Prompt, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save persona: %w", err)
	}
	return nil
}

// DefaultPersona returns the configured global persona
func (r *personaRepo) DefaultPersona(ctx context.Context) (*domain.Persona, error) {
	if r.def.IsZero() {
		return nil, nil
	}
	p := r.def
	return &p, nil
}
