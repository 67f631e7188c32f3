package data

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
	"github.com/DevRickLin/feishu-nudge/internal/biz/repo"
)

type fakeCompletion struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (f *fakeCompletion) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, f.err
}

type fakeMessages struct {
	params sdk.MessageNewParams
	msg    *sdk.Message
	err    error
}

func (f *fakeMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.params = body
	return f.msg, f.err
}

type namedLLM struct {
	name string
	got  []repo.GenerateRequest
}

func (n *namedLLM) GenerateReply(_ context.Context, req repo.GenerateRequest) (string, error) {
	n.got = append(n.got, req)
	return n.name, nil
}

var sampleHistory = []domain.Turn{
	{Role: domain.RoleAssistant, Text: "earlier bot line"},
	{Role: domain.RoleUser, Text: "hi"},
	{Role: domain.RoleUser, Text: "are you there"},
	{Role: domain.RoleAssistant, Text: "yes"},
}

func TestOpenAIRepoBuildsMessages(t *testing.T) {
	fake := &fakeCompletion{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "  hello  "}}},
	}}
	r := NewOpenAIRepo(fake, "gpt-4o-mini", 256)

	reply, err := r.GenerateReply(context.Background(), repo.GenerateRequest{
		Prompt:  "say hi",
		History: sampleHistory,
		Persona: "be kind",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", reply)
	assert.Equal(t, "gpt-4o-mini", fake.req.Model)
	assert.Equal(t, 256, fake.req.MaxTokens)

	msgs := fake.req.Messages
	require.Len(t, msgs, 6)
	assert.Equal(t, openai.ChatMessageRoleSystem, msgs[0].Role)
	assert.Equal(t, "be kind", msgs[0].Content)
	assert.Equal(t, openai.ChatMessageRoleAssistant, msgs[1].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, msgs[5].Role)
	assert.Equal(t, "say hi", msgs[5].Content)
}

func TestOpenAIRepoErrors(t *testing.T) {
	_, err := NewOpenAIRepo(&fakeCompletion{err: errors.New("boom")}, "m", 10).
		GenerateReply(context.Background(), repo.GenerateRequest{Prompt: "x"})
	assert.ErrorContains(t, err, "boom")

	_, err = NewOpenAIRepo(&fakeCompletion{}, "m", 10).
		GenerateReply(context.Background(), repo.GenerateRequest{Prompt: "x"})
	assert.ErrorContains(t, err, "no choices")
}

func TestAnthropicRepo(t *testing.T) {
	fake := &fakeMessages{msg: &sdk.Message{Content: []sdk.ContentBlockUnion{
		{Type: "text", Text: "hello"},
		{Type: "text", Text: "again"},
	}}}
	r := NewAnthropicRepo(fake, "claude-test", 300)

	reply, err := r.GenerateReply(context.Background(), repo.GenerateRequest{
		Prompt: "say hi", History: sampleHistory, Persona: "be kind",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello\nagain", reply)
	assert.Equal(t, int64(300), fake.params.MaxTokens)
	assert.Equal(t, sdk.Model("claude-test"), fake.params.Model)
	require.Len(t, fake.params.System, 1)
	assert.Equal(t, "be kind", fake.params.System[0].Text)

	_, err = NewAnthropicRepo(&fakeMessages{err: errors.New("overloaded")}, "m", 1).
		GenerateReply(context.Background(), repo.GenerateRequest{Prompt: "x"})
	assert.ErrorContains(t, err, "overloaded")
}

func TestEncodeTurnsAlternates(t *testing.T) {
	msgs := encodeTurns(sampleHistory, "say hi")
	// leading assistant dropped, two user turns merged, prompt last
	require.Len(t, msgs, 3)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, msgs[1].Role)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[2].Role)
	require.NotNil(t, msgs[0].Content[0].OfText)
	assert.Equal(t, "hi\nare you there", msgs[0].Content[0].OfText.Text)

	msgs = encodeTurns([]domain.Turn{{Role: domain.RoleUser, Text: "ping"}}, "follow up")
	require.Len(t, msgs, 1)
	assert.Equal(t, "ping\nfollow up", msgs[0].Content[0].OfText.Text)
}

func TestLLMRouter(t *testing.T) {
	oa := &namedLLM{name: "openai"}
	an := &namedLLM{name: "anthropic"}
	r := NewLLMRouter(map[string]repo.LLMRepo{ProviderOpenAI: oa, ProviderAnthropic: an, "none": nil}, "OpenAI")
	ctx := context.Background()

	got, err := r.GenerateReply(ctx, repo.GenerateRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "openai", got)

	got, err = r.GenerateReply(ctx, repo.GenerateRequest{Prompt: "p", Provider: " Anthropic "})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", got)
	assert.Len(t, an.got, 1)

	_, err = r.GenerateReply(ctx, repo.GenerateRequest{Prompt: "p", Provider: "none"})
	assert.ErrorContains(t, err, `"none" is not configured`)
}
