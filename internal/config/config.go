package config

import (
	"fmt"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

type StoreDriver string

const (
	DriverSQLite StoreDriver = "sqlite"
	DriverBolt   StoreDriver = "bolt"
	DriverMemory StoreDriver = "memory"
)

type Config struct {
	// LLM settings
	LLMProvider      LLMProvider `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string      `env:"OPENAI_BASE_URL"`
	OpenAIModel      string      `env:"OPENAI_MODEL" envDefault:"gpt-4o"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Generation policy
	MaxTokens           int     `env:"MAX_TOKENS" envDefault:"100"`
	Temperature         float32 `env:"TEMPERATURE" envDefault:"0.7"`
	SystemPrompt        string  `env:"SYSTEM_PROMPT" envDefault:"You are a helpful assistant."`
	PlaceholderReply    string  `env:"PLACEHOLDER_REPLY" envDefault:"Oops! GPT error occurred."`
	FallbackRepliesPath string  `env:"FALLBACK_REPLIES_PATH"`
	// Most recent messages sent to the backend per turn; 0 sends the whole history.
	ContextWindow int `env:"CONTEXT_WINDOW" envDefault:"40"`

	// Storage
	StoreDriver     StoreDriver `env:"STORE_DRIVER" envDefault:"sqlite"`
	DatabasePath    string      `env:"DATABASE_PATH" envDefault:"data/chat.db"`
	BoltPath        string      `env:"BOLT_PATH" envDefault:"data/chat.bolt"`
	UsersFilePath   string      `env:"USERS_FILE_PATH" envDefault:"data/users.json"`
	ExchangeLogPath string      `env:"EXCHANGE_LOG_PATH" envDefault:"logs/exchanges.jsonl"`

	// Identity
	DefaultUserName string `env:"DEFAULT_USER_NAME" envDefault:"Alice"`

	// HTTP
	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8000"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`

	// Telegram transport is off unless a token is present. An empty
	// allowlist admits every chat.
	TelegramBotToken     string  `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAllowedChats []int64 `env:"TELEGRAM_ALLOWED_CHATS" envSeparator:","`

	// Daily report over the exchange log; empty disables it.
	DailyReportSpec string `env:"DAILY_REPORT_SPEC" envDefault:"0 21 * * *"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
}

// New parses the environment into a Config and validates it.
func New() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.LLMProvider {
	case ProviderOpenAI, ProviderYandex:
	default:
		return fmt.Errorf("unknown llm provider: %s", c.LLMProvider)
	}
	switch c.StoreDriver {
	case DriverSQLite, DriverBolt, DriverMemory:
	default:
		return fmt.Errorf("unknown store driver: %s", c.StoreDriver)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("MAX_TOKENS must not be negative, got %d", c.MaxTokens)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("TEMPERATURE must be within [0, 2], got %v", c.Temperature)
	}
	if c.ContextWindow < 0 {
		return fmt.Errorf("CONTEXT_WINDOW must not be negative, got %d", c.ContextWindow)
	}
	return nil
}
