package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
	"github.com/DevRickLin/feishu-nudge/internal/biz/repo"
)

// CacheCapacity is the number of turns kept per session
const CacheCapacity = 32

// cacheRepo is a per-session ring of observed turns, stored as one JSON row
type cacheRepo struct {
	db *sql.DB
	mu sync.Mutex
}

// NewCacheRepo creates a new context cache repository
func NewCacheRepo(db *sql.DB) (repo.CacheRepo, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS context_cache (
			session_id TEXT PRIMARY KEY,
			turns TEXT NOT NULL DEFAULT '[]',
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create context_cache table: %w", err)
	}
	return &cacheRepo{db: db}, nil
}

func (r *cacheRepo) load(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT turns FROM context_cache WHERE session_id = ?`, sessionID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cache: %w", err)
	}
	var turns []domain.Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, fmt.Errorf("failed to decode cache: %w", err)
	}
	return turns, nil
}

// Push appends turns, dropping the oldest beyond CacheCapacity.
// A row that cannot be decoded is replaced.
func (r *cacheRepo) Push(ctx context.Context, sessionID string, turns ...domain.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.load(ctx, sessionID)
	if err != nil {
		existing = nil
	}
	existing = domain.LastTurns(append(existing, turns...), CacheCapacity)

	raw, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO context_cache (session_id, turns, updated_at) VALUES (?, ?, ?)
	`, sessionID, string(raw), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save cache: %w", err)
	}
	return nil
}

// Recent returns the newest n cached turns, oldest first
func (r *cacheRepo) Recent(ctx context.Context, sessionID string, n int) ([]domain.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	turns, err := r.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return domain.LastTurns(turns, n), nil
}
