package llm

import (
	"context"
	"fmt"
	"time"

	"docrag/config"
	"docrag/internal/port"
)

// NewFromConfig builds the configured generator with the judge timeout
// applied to every call.
func NewFromConfig(cfg config.JudgeConfig) (port.Generator, error) {
	var g port.Generator
	switch cfg.Provider {
	case "ollama", "":
		g = NewOllamaGenerator(cfg.Model, cfg.BaseURL)
	case "openai":
		og, err := NewOpenAIGenerator(cfg.APIKeyEnv, cfg.Model, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		g = og
	default:
		return nil, fmt.Errorf("unsupported judge provider: %s", cfg.Provider)
	}
	return WithTimeout(g, cfg.Timeout), nil
}

type timeoutGenerator struct {
	port.Generator
	timeout time.Duration
}

// WithTimeout bounds each Generate call by d. A non-positive d returns g.
func WithTimeout(g port.Generator, d time.Duration) port.Generator {
	if d <= 0 {
		return g
	}
	return &timeoutGenerator{Generator: g, timeout: d}
}

func (t *timeoutGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Generator.Generate(ctx, prompt)
}
