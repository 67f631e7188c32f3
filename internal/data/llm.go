package data

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"goa.design/clue/log"

	"github.com/DevRickLin/feishu-nudge/internal/biz/repo"
)

// Provider names
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// llmRouter dispatches generation to a named provider
type llmRouter struct {
	providers map[string]repo.LLMRepo
	fallback  string
}

// NewLLMRouter creates an LLM repository that selects a provider per
// request. An empty request provider uses fallback.
func NewLLMRouter(providers map[string]repo.LLMRepo, fallback string) repo.LLMRepo {
	ps := make(map[string]repo.LLMRepo, len(providers))
	for name, p := range providers {
		if p != nil {
			ps[strings.ToLower(name)] = p
		}
	}
	return &llmRouter{providers: ps, fallback: strings.ToLower(fallback)}
}

// GenerateReply forwards to the selected provider
func (r *llmRouter) GenerateReply(ctx context.Context, req repo.GenerateRequest) (string, error) {
	name := strings.ToLower(strings.TrimSpace(req.Provider))
	if name == "" {
		name = r.fallback
	}
	p, ok := r.providers[name]
	if !ok {
		return "", fmt.Errorf("llm provider %q is not configured (have %s)", name, strings.Join(r.names(), ", "))
	}
	log.Debug(ctx, log.KV{K: "component", V: "llm"}, log.KV{K: "msg", V: "generating reply"},
		log.KV{K: "provider", V: name}, log.KV{K: "history", V: len(req.History)})
	return p.GenerateReply(ctx, req)
}

func (r *llmRouter) names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
