package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"goa.design/clue/log"

	"github.com/DevRickLin/feishu-nudge/internal/api"
	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
	"github.com/DevRickLin/feishu-nudge/internal/biz/repo"
	"github.com/DevRickLin/feishu-nudge/internal/biz/usecase"
	"github.com/DevRickLin/feishu-nudge/internal/conf"
	"github.com/DevRickLin/feishu-nudge/internal/data"
	"github.com/DevRickLin/feishu-nudge/internal/infra/feishu"
	"github.com/DevRickLin/feishu-nudge/internal/server"
	"github.com/DevRickLin/feishu-nudge/internal/service"
)

// app holds the wired components of a serve or tick run
type app struct {
	cfg   *conf.Config
	db    *sql.DB
	store *conf.Store
	repos *data.Repositories

	feishu    *feishu.Client
	commands  *usecase.CommandUsecase
	scheduler *service.ProactiveScheduler
	api       *api.Server
	intake    *server.FeishuServer
}

// loadConfig reads .env and the process environment, with flags taking
// precedence over the matching variables
func loadConfig(opts *rootOptions) *conf.Config {
	// A missing .env is normal in production
	_ = godotenv.Load()

	cfg := conf.LoadFromEnv()
	if opts.configPath != "" {
		cfg.SettingsPath = opts.configPath
	}
	if opts.promptsPath != "" {
		cfg.PromptsPath = opts.promptsPath
	}
	if opts.debug {
		cfg.Debug = true
	}
	return cfg
}

// newLogContext builds the root logging context
func newLogContext(ctx context.Context, debug bool) context.Context {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx = log.Context(ctx, log.WithFormat(format))
	if debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	return ctx
}

// wireApp builds every layer from cfg. The caller owns the returned app
// and must Close it.
func wireApp(ctx context.Context, cfg *conf.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	prompts, err := conf.LoadPromptsConfig(ctx, cfg.PromptsPath)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	v, err := conf.NewViper(cfg.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	store, err := conf.NewStore(v, prompts)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	db, err := data.OpenDB(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	log.Info(ctx, log.KV{K: "component", V: "nudge"}, log.KV{K: "msg", V: "database opened"}, log.KV{K: "path", V: cfg.Storage.DBPath})

	feishuClient := feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret)
	persona := domain.Persona{Name: prompts.Persona.Name, Prompt: prompts.Persona.Default}
	repos, err := data.NewRepositories(db, feishuClient, newLLM(ctx, cfg), persona)
	if err != nil {
		db.Close()
		return nil, err
	}

	registry := usecase.NewRegistry(repos.Session, repos.Reminder, nil)
	triggers := usecase.NewTriggerEvaluator(usecase.NewRandom())
	lifecycle := usecase.NewLifecycleUsecase(registry, store, triggers, repos.Conversation, repos.Cache)
	reminders := usecase.NewReminderUsecase(registry, store)
	contexts := usecase.NewContextBuilderUsecase([]usecase.HistoryProvider{
		usecase.NewConversationProvider(repos.Conversation),
		usecase.NewTranscriptProvider(repos.Message),
		usecase.NewCacheProvider(repos.Cache),
	}, repos.Persona, nil)
	proactive := usecase.NewProactiveUsecase(registry, store, triggers, lifecycle, reminders, contexts,
		repos.LLM, repos.Message, repos.Conversation, repos.Cache)
	commands := usecase.NewCommandUsecase(registry, store, triggers, lifecycle, reminders, contexts, proactive)

	scheduler := service.NewProactiveScheduler(proactive, store, service.NewDispatcher(proactive), nil, 0)

	return &app{
		cfg:       cfg,
		db:        db,
		store:     store,
		repos:     repos,
		feishu:    feishuClient,
		commands:  commands,
		scheduler: scheduler,
		api:       api.NewServer(registry, lifecycle, reminders, contexts, repos.Persona, store, scheduler, cfg.API.Port),
		intake:    server.NewFeishuServer(feishuClient, lifecycle, commands, repos.Message),
	}, nil
}

// newLLM routes generation to every provider that has credentials
func newLLM(ctx context.Context, cfg *conf.Config) repo.LLMRepo {
	providers := make(map[string]repo.LLMRepo, 2)
	if cfg.OpenAI.Enabled() {
		client := data.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
		providers[data.ProviderOpenAI] = data.NewOpenAIRepo(client, cfg.OpenAI.Model, cfg.OpenAI.MaxTokens)
	}
	if cfg.Anthropic.Enabled() {
		msgs := data.NewAnthropicMessages(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL)
		providers[data.ProviderAnthropic] = data.NewAnthropicRepo(msgs, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
	}
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	log.Info(ctx, log.KV{K: "component", V: "nudge"}, log.KV{K: "msg", V: "llm providers"},
		log.KV{K: "providers", V: strings.Join(names, ",")}, log.KV{K: "default", V: cfg.DefaultProvider})
	return data.NewLLMRouter(providers, cfg.DefaultProvider)
}

// Close releases the database
func (a *app) Close() error {
	return a.db.Close()
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
