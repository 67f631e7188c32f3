package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"goa.design/clue/log"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
	"github.com/DevRickLin/feishu-nudge/internal/biz/repo"
)

// History source names, in default resolution order
const (
	SourceConversation = "conversation-store"
	SourceTranscript   = "chat-transcript"
	SourceCache        = "local-cache"
	SourceNone         = "none"
)

// Persona source names
const (
	PersonaSession  = "session"
	PersonaOverride = "override"
	PersonaDefault  = "default"
)

var errEmpty = errors.New("empty result")

// HistoryProvider is one tier of the history fallback chain
type HistoryProvider interface {
	Name() string
	Fetch(ctx context.Context, sessionID string, depth int) ([]domain.Turn, error)
}

type conversationProvider struct{ repo repo.ConversationRepo }

// NewConversationProvider reads the conversation store
func NewConversationProvider(r repo.ConversationRepo) HistoryProvider {
	return conversationProvider{repo: r}
}

func (p conversationProvider) Name() string { return SourceConversation }

func (p conversationProvider) Fetch(ctx context.Context, sessionID string, depth int) ([]domain.Turn, error) {
	turns, err := p.repo.GetHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return domain.LastTurns(turns, depth), nil
}

type transcriptProvider struct{ repo repo.MessageRepo }

// NewTranscriptProvider reads the chat platform's own message list
func NewTranscriptProvider(r repo.MessageRepo) HistoryProvider {
	return transcriptProvider{repo: r}
}

func (p transcriptProvider) Name() string { return SourceTranscript }

func (p transcriptProvider) Fetch(ctx context.Context, sessionID string, depth int) ([]domain.Turn, error) {
	msgs, err := p.repo.GetChatHistory(ctx, sessionID, depth)
	if err != nil {
		return nil, err
	}
	turns := make([]domain.Turn, 0, len(msgs))
	for i := range msgs {
		if strings.TrimSpace(msgs[i].Content) == "" {
			continue
		}
		turns = append(turns, msgs[i].AsTurn())
	}
	return domain.LastTurns(turns, depth), nil
}

type cacheProvider struct{ repo repo.CacheRepo }

// NewCacheProvider reads the local cache of observed exchanges
func NewCacheProvider(r repo.CacheRepo) HistoryProvider {
	return cacheProvider{repo: r}
}

func (p cacheProvider) Name() string { return SourceCache }

func (p cacheProvider) Fetch(ctx context.Context, sessionID string, depth int) ([]domain.Turn, error) {
	return p.repo.Recent(ctx, sessionID, depth)
}

// Attempt records the outcome of one resolution tier
type Attempt struct {
	Kind   string `json:"kind"` // history or persona
	Source string `json:"source"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Resolution is the context resolved for one proactive message
type Resolution struct {
	SessionID     string        `json:"session_id"`
	History       []domain.Turn `json:"history"`
	HistorySource string        `json:"history_source"`
	Persona       string        `json:"persona,omitempty"`
	PersonaSource string        `json:"persona_source"`
	Attempts      []Attempt     `json:"attempts"`
	At            time.Time     `json:"at"`
}

func (r *Resolution) record(kind, source string, err error, n int) {
	a := Attempt{Kind: kind, Source: source, OK: err == nil}
	switch {
	case err != nil:
		a.Detail = err.Error()
	case n > 0:
		a.Detail = fmt.Sprintf("%d entries", n)
	}
	r.Attempts = append(r.Attempts, a)
}

// Summary renders the attempts on one line for chat output
func (r *Resolution) Summary() string {
	parts := make([]string, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		mark := "x"
		if a.OK {
			mark = "ok"
		}
		p := fmt.Sprintf("%s/%s=%s", a.Kind, a.Source, mark)
		if !a.OK && a.Detail != "" {
			p += "(" + a.Detail + ")"
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, " ")
}

// ContextBuilderUsecase resolves history and persona through fallback chains.
// It never fails: an exhausted chain yields empty history and no persona.
type ContextBuilderUsecase struct {
	providers   []HistoryProvider
	personaRepo repo.PersonaRepo
	clock       domain.Clock

	mu   sync.Mutex
	last map[string]*Resolution
}

// NewContextBuilderUsecase creates a new context builder usecase.
// providers are tried in order; personaRepo may be nil.
func NewContextBuilderUsecase(providers []HistoryProvider, personaRepo repo.PersonaRepo, clock domain.Clock) *ContextBuilderUsecase {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &ContextBuilderUsecase{
		providers:   providers,
		personaRepo: personaRepo,
		clock:       clock,
		last:        make(map[string]*Resolution),
	}
}

// Resolve builds the context for sessionID
func (uc *ContextBuilderUsecase) Resolve(ctx context.Context, sessionID string, cfg *domain.Settings) *Resolution {
	res := &Resolution{SessionID: sessionID, HistorySource: SourceNone, PersonaSource: SourceNone, At: uc.clock.Now()}

	if cfg.HistoryDepth > 0 {
		for _, p := range uc.providers {
			turns, err := p.Fetch(ctx, sessionID, cfg.HistoryDepth)
			if err == nil && len(turns) == 0 {
				err = errEmpty
			}
			res.record("history", p.Name(), err, len(turns))
			if err != nil {
				continue
			}
			res.History = domain.LastTurns(turns, cfg.HistoryDepth)
			res.HistorySource = p.Name()
			break
		}
	}

	uc.resolvePersona(ctx, res, cfg)

	log.Debug(ctx, log.KV{K: "component", V: "context"}, log.KV{K: "session", V: sessionID},
		log.KV{K: "history_source", V: res.HistorySource}, log.KV{K: "history_len", V: len(res.History)},
		log.KV{K: "persona_source", V: res.PersonaSource}, log.KV{K: "attempts", V: res.Summary()})

	uc.mu.Lock()
	uc.last[sessionID] = res
	uc.mu.Unlock()
	return res
}

func (uc *ContextBuilderUsecase) resolvePersona(ctx context.Context, res *Resolution, cfg *domain.Settings) {
	if uc.personaRepo != nil {
		p, err := uc.personaRepo.GetPersona(ctx, res.SessionID)
		if err == nil && (p == nil || p.IsZero()) {
			err = errEmpty
		}
		res.record("persona", PersonaSession, err, 0)
		if err == nil {
			res.Persona, res.PersonaSource = p.Prompt, PersonaSession
			return
		}
	}

	if cfg.PersonaOverride != "" {
		res.record("persona", PersonaOverride, nil, 0)
		res.Persona, res.PersonaSource = cfg.PersonaOverride, PersonaOverride
		return
	}

	if uc.personaRepo != nil {
		p, err := uc.personaRepo.DefaultPersona(ctx)
		if err == nil && (p == nil || p.IsZero()) {
			err = errEmpty
		}
		res.record("persona", PersonaDefault, err, 0)
		if err == nil {
			res.Persona, res.PersonaSource = p.Prompt, PersonaDefault
		}
	}
}

// LastResolution returns the most recent resolution for sessionID, nil if none
func (uc *ContextBuilderUsecase) LastResolution(sessionID string) *Resolution {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.last[sessionID]
}
