package provider

import (
	"fmt"
	"log/slog"
	"time"

	"recruitmate/internal/config"
	"recruitmate/internal/domain"
)

// New builds the language-model backend named by cfg.Provider.
func New(cfg config.LLMConfig, logger *slog.Logger) (domain.Backend, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAI(OpenAIConfig{
			APIKey:  cfg.APIKey,
			APIBase: cfg.APIBase,
			Model:   cfg.Model,
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
			Logger:  logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
