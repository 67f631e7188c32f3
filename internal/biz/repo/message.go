package repo

import (
	"context"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
)

// MessageRepo is the chat platform interface
// Responsible for delivery and the platform's own transcript (Feishu API)
type MessageRepo interface {
	// SendText sends a text message
	SendText(ctx context.Context, chatID, text string) error

	// GetChatHistory gets the most recent messages, oldest first
	// Fetches in real-time from Feishu API, does not rely on local storage
	GetChatHistory(ctx context.Context, chatID string, limit int) ([]domain.Message, error)
}
