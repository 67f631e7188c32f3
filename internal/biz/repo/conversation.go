package repo

import (
	"context"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
)

// ConversationRepo is the conversation-history store
type ConversationRepo interface {
	// GetHistory returns the full history of a session, oldest first
	GetHistory(ctx context.Context, sessionID string) ([]domain.Turn, error)

	// AppendHistory appends a (user, assistant) exchange
	AppendHistory(ctx context.Context, sessionID, userText, assistantText string) error

	// AppendTurn appends a single observed turn
	AppendTurn(ctx context.Context, sessionID string, turn domain.Turn) error
}

// CacheRepo is the bounded per-session cache of exchanges seen directly
type CacheRepo interface {
	Push(ctx context.Context, sessionID string, turns ...domain.Turn) error
	Recent(ctx context.Context, sessionID string, n int) ([]domain.Turn, error)
}

// PersonaRepo is the persona registry
type PersonaRepo interface {
	// GetPersona returns the persona bound to a session, nil if none
	GetPersona(ctx context.Context, sessionID string) (*domain.Persona, error)

	// SetPersona binds a persona to a session, an empty prompt unbinds
	SetPersona(ctx context.Context, sessionID string, p domain.Persona) error

	// DefaultPersona returns the global default persona, nil if none
	DefaultPersona(ctx context.Context) (*domain.Persona, error)
}
