package repo

import (
	"context"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
)

// GenerateRequest is the input of a proactive reply generation
type GenerateRequest struct {
	Prompt   string
	History  []domain.Turn
	Persona  string
	Provider string // empty selects the default provider
}

// LLMRepo turns a prompt plus context into reply text
type LLMRepo interface {
	GenerateReply(ctx context.Context, req GenerateRequest) (string, error)
}
