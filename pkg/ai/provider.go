package ai

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Provider names accepted by New.
const (
	ProviderNone      = "none"
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderMoonshot  = "moonshot"
	ProviderAnthropic = "anthropic"
)

// Generator produces text from a prompt.
type Generator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Client is a Generator holding resources.
type Client interface {
	Generator
	Close() error
}

type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

// New builds the client for cfg.Provider. It returns nil for ProviderNone
// and for an empty provider.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Provider == "" || cfg.Provider == ProviderNone {
		return nil, nil
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("no API key for provider %q", cfg.Provider)
	}
	opts := []Option{WithModel(cfg.Model), WithBaseURL(cfg.BaseURL), WithLogger(logger)}
	switch cfg.Provider {
	case ProviderGemini:
		c, err := NewGeminiClient(ctx, cfg.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderOpenAI:
		return NewOpenAIClient(cfg.APIKey, opts...), nil
	case ProviderMoonshot:
		return NewMoonshotClient(cfg.APIKey, opts...), nil
	case ProviderAnthropic:
		return NewAnthropicClient(cfg.APIKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
}
