package conf

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config represents process configuration that is fixed at start-up.
// Scheduling behavior lives in the hot-reloadable Settings (see store.go).
type Config struct {
	// Feishu configuration
	Feishu FeishuConfig

	// LLM providers
	OpenAI          ProviderConfig
	Anthropic       ProviderConfig
	DefaultProvider string

	// Storage configuration
	Storage StorageConfig

	// HTTP API configuration
	API APIConfig

	// Settings file (nudge.yaml), empty uses search paths
	SettingsPath string

	// Prompts file (prompts.yaml), empty uses search paths
	PromptsPath string

	// Debug mode
	Debug bool
}

// FeishuConfig contains Feishu configuration
type FeishuConfig struct {
	AppID     string
	AppSecret string
}

// ProviderConfig contains one LLM provider's credentials
type ProviderConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// Enabled reports whether the provider has credentials
func (p ProviderConfig) Enabled() bool {
	return p.APIKey != ""
}

// StorageConfig contains database configuration
type StorageConfig struct {
	DBPath string
}

// APIConfig contains HTTP API configuration
type APIConfig struct {
	Port int
}

const (
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-sonnet-4-5"
)

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Database path
	dbPath := os.Getenv("NUDGE_DB_PATH")
	if dbPath == "" {
		homeDir, _ := os.UserHomeDir()
		dbPath = filepath.Join(homeDir, ".feishu-nudge", "nudge.db")
	}

	// API port
	apiPort := 8787
	if val := os.Getenv("API_PORT"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			apiPort = parsed
		}
	}

	maxTokens := 512
	if val := os.Getenv("LLM_MAX_TOKENS"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			maxTokens = parsed
		}
	}

	defaultProvider := strings.ToLower(os.Getenv("DEFAULT_PROVIDER"))
	if defaultProvider == "" {
		defaultProvider = "openai"
	}

	return &Config{
		Feishu: FeishuConfig{
			AppID:     os.Getenv("FEISHU_APP_ID"),
			AppSecret: os.Getenv("FEISHU_APP_SECRET"),
		},
		OpenAI: ProviderConfig{
			APIKey:    os.Getenv("OPENAI_API_KEY"),
			BaseURL:   os.Getenv("OPENAI_BASE_URL"),
			Model:     getenvDefault("OPENAI_MODEL", defaultOpenAIModel),
			MaxTokens: maxTokens,
		},
		Anthropic: ProviderConfig{
			APIKey:    os.Getenv("ANTHROPIC_API_KEY"),
			BaseURL:   os.Getenv("ANTHROPIC_BASE_URL"),
			Model:     getenvDefault("ANTHROPIC_MODEL", defaultAnthropicModel),
			MaxTokens: maxTokens,
		},
		DefaultProvider: defaultProvider,
		Storage: StorageConfig{
			DBPath: dbPath,
		},
		API: APIConfig{
			Port: apiPort,
		},
		SettingsPath: os.Getenv("NUDGE_CONFIG"),
		PromptsPath:  os.Getenv("PROMPTS_CONFIG_PATH"),
		Debug:        os.Getenv("DEBUG") == "true",
	}
}

// Validate validates the configuration needed by the serve command
func (c *Config) Validate() error {
	if c.Feishu.AppID == "" || c.Feishu.AppSecret == "" {
		return &ConfigError{Field: "FEISHU_APP_ID/FEISHU_APP_SECRET", Message: "required"}
	}
	if !c.OpenAI.Enabled() && !c.Anthropic.Enabled() {
		return &ConfigError{Field: "OPENAI_API_KEY/ANTHROPIC_API_KEY", Message: "at least one provider is required"}
	}
	switch c.DefaultProvider {
	case "openai", "anthropic":
	default:
		return &ConfigError{Field: "DEFAULT_PROVIDER", Message: "must be openai or anthropic"}
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
