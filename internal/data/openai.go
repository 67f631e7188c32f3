package data

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
	"github.com/DevRickLin/feishu-nudge/internal/biz/repo"
)

// ChatCompletionClient is the subset of *openai.Client used by openaiRepo
type ChatCompletionClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// openaiRepo generates replies through an OpenAI-compatible chat API
type openaiRepo struct {
	client    ChatCompletionClient
	model     string
	maxTokens int
}

// NewOpenAIClient builds a go-openai client, honoring a custom base URL
// for compatible endpoints
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// NewOpenAIRepo creates an LLM repository backed by client
func NewOpenAIRepo(client ChatCompletionClient, model string, maxTokens int) repo.LLMRepo {
	return &openaiRepo{client: client, model: model, maxTokens: maxTokens}
}

// GenerateReply sends persona, history and prompt as one chat completion
func (r *openaiRepo) GenerateReply(ctx context.Context, req repo.GenerateRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.Persona != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.Persona})
	}
	for _, t := range req.History {
		role := openai.ChatMessageRoleUser
		switch t.Role {
		case domain.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case domain.RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     r.model,
		Messages:  messages,
		MaxTokens: r.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: response has no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
