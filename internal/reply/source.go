package reply

import (
	"fmt"

	"go.uber.org/zap"

	"convo-chat/internal/config"
	"convo-chat/internal/llm"
	"convo-chat/internal/logging"
)

// New picks the reply source for this deployment. Missing backend
// credentials select the canned pool; otherwise every turn goes to the
// configured provider.
func New(cfg *config.Config, factory *llm.Factory, log *zap.Logger) (Source, error) {
	provider := string(cfg.LLMProvider)
	if !factory.Configured(provider) {
		pool := DefaultPool
		if cfg.FallbackRepliesPath != "" {
			loaded, err := LoadPool(cfg.FallbackRepliesPath)
			if err != nil {
				return nil, err
			}
			pool = loaded
		}
		log.Warn("no completion backend credentials found, replies come from the fallback pool",
			zap.String("provider", provider),
			zap.Int("pool_size", len(pool)))
		return NewUnconfigured(pool, nil), nil
	}

	client, err := factory.CreateClient(provider, cfg.OpenAIModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	log.Info("completion backend configured",
		zap.String("provider", provider),
		zap.String("model", cfg.OpenAIModel),
		zap.String("openai_api_key", logging.MaskSecret(cfg.OpenAIAPIKey)))

	return &Configured{
		Client:      client,
		Options:     llm.Options{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature},
		Placeholder: cfg.PlaceholderReply,
		Log:         log.Named("completion"),
	}, nil
}
