package data

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
	"github.com/DevRickLin/feishu-nudge/internal/biz/repo"
)

// MessagesClient is the subset of the Anthropic SDK used by anthropicRepo.
// *sdk.MessageService satisfies it.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// anthropicRepo generates replies through the Claude Messages API
type anthropicRepo struct {
	msg       MessagesClient
	model     string
	maxTokens int
}

// NewAnthropicMessages builds the SDK messages service for apiKey
func NewAnthropicMessages(apiKey, baseURL string) MessagesClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	c := sdk.NewClient(opts...)
	return &c.Messages
}

// NewAnthropicRepo creates an LLM repository backed by msg
func NewAnthropicRepo(msg MessagesClient, model string, maxTokens int) repo.LLMRepo {
	return &anthropicRepo{msg: msg, model: model, maxTokens: maxTokens}
}

// GenerateReply sends persona as system text and history plus prompt as turns
func (r *anthropicRepo) GenerateReply(ctx context.Context, req repo.GenerateRequest) (string, error) {
	params := sdk.MessageNewParams{
		MaxTokens: int64(r.maxTokens),
		Messages:  encodeTurns(req.History, req.Prompt),
		Model:     sdk.Model(r.model),
	}
	if req.Persona != "" {
		params.System = []sdk.TextBlockParam{{Text: req.Persona}}
	}

	msg, err := r.msg.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages.new: %w", err)
	}
	if msg == nil {
		return "", errors.New("anthropic: response message is nil")
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), nil
}

// encodeTurns builds an alternating user/assistant conversation ending with
// the prompt. Same-role neighbours are merged and leading assistant turns
// dropped, since the API requires the first message to come from the user.
func encodeTurns(history []domain.Turn, prompt string) []sdk.MessageParam {
	type turn struct {
		role domain.Role
		text []string
	}
	var merged []turn
	add := func(role domain.Role, text string) {
		if text == "" {
			return
		}
		if n := len(merged); n > 0 && merged[n-1].role == role {
			merged[n-1].text = append(merged[n-1].text, text)
			return
		}
		if len(merged) == 0 && role != domain.RoleUser {
			return
		}
		merged = append(merged, turn{role: role, text: []string{text}})
	}
	for _, t := range history {
		if t.Role == domain.RoleSystem {
			continue
		}
		add(t.Role, t.Text)
	}
	add(domain.RoleUser, prompt)

	out := make([]sdk.MessageParam, 0, len(merged))
	for _, t := range merged {
		block := sdk.NewTextBlock(strings.Join(t.text, "\n"))
		if t.role == domain.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(block))
		} else {
			out = append(out, sdk.NewUserMessage(block))
		}
	}
	return out
}
