package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/suPer8Hu/ui-studio/internal/config"
)

type ProviderFactory func(ctx context.Context, model string) (Provider, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

// NewDefaultRegistry registers every backend the service ships with, configured from cfg.
func NewDefaultRegistry(cfg config.Config) *Registry {
	reg := NewRegistry()
	reg.Register("gemini", func(ctx context.Context, model string) (Provider, error) {
		return NewGeminiProvider(cfg.GeminiBaseURL, cfg.GeminiAPIKey, model), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (Provider, error) {
		return NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, model, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	reg.Register("ollama", func(ctx context.Context, model string) (Provider, error) {
		return NewOllamaProvider(cfg.OllamaBaseURL, model), nil
	})
	return reg
}

func (r *Registry) Register(name string, f ProviderFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(ctx context.Context, name string, model string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
	return f(ctx, model)
}
