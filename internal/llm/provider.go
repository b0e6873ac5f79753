package llm

import (
	"context"
	"fmt"
	"strings"
)

type Config struct {
	Backend    string
	Model      string
	OllamaHost string
}

// Provider is the generative text service. Both methods return the raw model
// text; structured parsing and resilience live in internal/invoke.
type Provider interface {
	DefaultModel() string
	AllowedModelOrDefault(model string) string
	Generate(ctx context.Context, prompt, model string) (string, error)
	GenerateJSON(ctx context.Context, prompt, model string, schema any) (string, error)
}

// New builds the provider selected by cfg.Backend.
func New(cfg Config) (Provider, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = "gemini"
	}
	switch backend {
	case "ollama":
		p := &ollamaProvider{}
		if err := p.init(cfg); err != nil {
			return nil, err
		}
		return p, nil
	case "gemini":
		p := &geminiProvider{}
		if err := p.init(cfg); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported LLM backend: %s", cfg.Backend)
	}
}
