package data

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
	"github.com/DevRickLin/feishu-nudge/internal/biz/repo"

	_ "modernc.org/sqlite"
)

// Repositories contains all repositories
type Repositories struct {
	Message      repo.MessageRepo
	Session      repo.SessionRepo
	Reminder     repo.ReminderRepo
	Conversation repo.ConversationRepo
	Cache        repo.CacheRepo
	Persona      repo.PersonaRepo
	LLM          repo.LLMRepo
}

// OpenDB opens (creating if needed) the SQLite database shared by all
// repositories
func OpenDB(dbPath string) (*sql.DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	return db, nil
}

// NewRepositories creates all repositories on top of db
func NewRepositories(db *sql.DB, chat ChatClient, llm repo.LLMRepo, defaultPersona domain.Persona) (*Repositories, error) {
	sessionRepo, err := NewSessionRepo(db)
	if err != nil {
		return nil, err
	}
	reminderRepo, err := NewReminderRepo(db)
	if err != nil {
		return nil, err
	}
	conversationRepo, err := NewConversationRepo(db)
	if err != nil {
		return nil, err
	}
	cacheRepo, err := NewCacheRepo(db)
	if err != nil {
		return nil, err
	}
	personaRepo, err := NewPersonaRepo(db, defaultPersona)
	if err != nil {
		return nil, err
	}

	return &Repositories{
		Message:      NewFeishuRepo(chat),
		Session:      sessionRepo,
		Reminder:     reminderRepo,
		Conversation: conversationRepo,
		Cache:        cacheRepo,
		Persona:      personaRepo,
		LLM:          llm,
	}, nil
}

// toUnix stores the zero time as 0
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
