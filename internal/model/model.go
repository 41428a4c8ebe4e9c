package model

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"

	"github.com/mnemo-bot/mnemo/internal/config"
)

// ErrModelUnavailable is returned when the model cannot produce output
// after all retry attempts are exhausted.
var ErrModelUnavailable = errors.New("model unavailable")

// Invoker sends a single prompt to the model and returns its text output.
// Allows mocking in tests.
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
	Close()
}

// runtimeAdapter wraps api.Runtime to implement Invoker
type runtimeAdapter struct {
	rt *api.Runtime
}

func (r *runtimeAdapter) Invoke(ctx context.Context, prompt string) (string, error) {
	resp, err := r.rt.Run(ctx, api.Request{Prompt: prompt})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Result == nil {
		return "", nil
	}
	return resp.Result.Output, nil
}

func (r *runtimeAdapter) Close() {
	r.rt.Close()
}

// Factory creates an Invoker instance
type Factory func(cfg *config.Config, sysPrompt string) (Invoker, error)

// NewRuntime creates the default agentsdk-go backed Invoker.
func NewRuntime(cfg *config.Config, sysPrompt string) (Invoker, error) {
	var provider api.ModelFactory
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	default: // "anthropic" or empty
		provider = &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	}

	rt, err := api.New(context.Background(), api.Options{
		ProjectRoot:  cfg.Agent.Workspace,
		ModelFactory: provider,
		SystemPrompt: sysPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return &runtimeAdapter{rt: rt}, nil
}

// Describe returns a short human-readable provider/model label for status output.
func Describe(cfg *config.Config) string {
	provider := cfg.Provider.Type
	if strings.TrimSpace(provider) == "" {
		provider = "anthropic"
	}
	return provider + "/" + cfg.Agent.Model
}
