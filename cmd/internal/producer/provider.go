package producer

import (
	"context"
	"fmt"
	"strings"
)

// Provider names accepted by Config.Provider.
const (
	ProviderEcho   = "echo"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config selects and configures the model behind a Producer.
type Config struct {
	Provider     string
	Model        string
	APIKey       string
	BaseURL      string
	SystemPrompt string
	MemoryTurns  int
}

// NewModel builds the model named by cfg.Provider.
func NewModel(ctx context.Context, cfg Config) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderEcho:
		return Echo{}, nil
	case ProviderOpenAI:
		return NewOpenAI(cfg.APIKey,
			WithOpenAIModel(cfg.Model),
			WithOpenAIBaseURL(cfg.BaseURL),
			WithOpenAISystemPrompt(cfg.SystemPrompt),
		)
	case ProviderGemini:
		return NewGemini(ctx, cfg.APIKey,
			WithGeminiModel(cfg.Model),
			WithGeminiBaseURL(cfg.BaseURL),
			WithGeminiSystemPrompt(cfg.SystemPrompt),
		)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
