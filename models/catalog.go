package models

import (
	"context"
	"log/slog"

	"github.com/m4xw311/mars/config"
	"github.com/m4xw311/mars/errors"
	"github.com/m4xw311/mars/llm"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderBedrock   = "bedrock"
	ProviderMock      = "mock"
)

func price(v float64) *float64 { return &v }

func claude(id, name string, in, out, cacheRead, cacheWrite float64) Model {
	return Model{
		ID:            id,
		Name:          name,
		ContextWindow: 200000,
		Pricing:       Pricing{InputCost: in, OutputCost: out, CacheReadCost: price(cacheRead), CacheWriteCost: price(cacheWrite)},
	}
}

var anthropicModels = []Model{
	claude("claude-opus-4-1-20250805", "Claude Opus 4.1", 1500, 7500, 150, 1875),
	claude("claude-opus-4-20250514", "Claude Opus 4", 1500, 7500, 150, 1875),
	claude("claude-sonnet-4-20250514", "Claude Sonnet 4", 300, 1500, 30, 375),
	claude("claude-3-7-sonnet-20250219", "Claude Sonnet 3.7", 300, 1500, 30, 375),
	claude("claude-3-5-sonnet-20241022", "Claude Sonnet 3.5 v2", 300, 1500, 30, 375),
	claude("claude-3-5-sonnet-20240620", "Claude Sonnet 3.5", 300, 1500, 30, 375),
	claude("claude-3-5-haiku-20241022", "Claude Haiku 3.5", 80, 400, 8, 100),
	claude("claude-3-opus-20240229", "Claude Opus 3", 1500, 7500, 150, 1875),
	claude("claude-3-haiku-20240307", "Claude Haiku 3", 25, 125, 3, 30),
}

var openAIModels = []Model{
	{ID: "gpt-4o", Name: "GPT-4o", ContextWindow: 128000, Pricing: Pricing{InputCost: 250, OutputCost: 1000, CacheReadCost: price(125)}},
	{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextWindow: 128000, Pricing: Pricing{InputCost: 15, OutputCost: 60, CacheReadCost: price(7.5)}},
	{ID: "gpt-4.1", Name: "GPT-4.1", ContextWindow: 1047576, Pricing: Pricing{InputCost: 200, OutputCost: 800, CacheReadCost: price(50)}},
}

var geminiModels = []Model{
	{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextWindow: 1048576, Pricing: Pricing{InputCost: 10, OutputCost: 40, CacheReadCost: price(2.5)}},
	{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", ContextWindow: 2097152, Pricing: Pricing{InputCost: 125, OutputCost: 500}},
	{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash", ContextWindow: 1048576, Pricing: Pricing{InputCost: 7.5, OutputCost: 30}},
}

var bedrockModels = []Model{
	claude("anthropic.claude-3-5-sonnet-20241022-v2:0", "Claude Sonnet 3.5 v2 (Bedrock)", 300, 1500, 30, 375),
	claude("anthropic.claude-3-5-haiku-20241022-v1:0", "Claude Haiku 3.5 (Bedrock)", 80, 400, 8, 100),
	claude("anthropic.claude-3-haiku-20240307-v1:0", "Claude Haiku 3 (Bedrock)", 25, 125, 3, 30),
}

var mockModels = []Model{
	{ID: "mock-model", Name: "Mock (offline echo)", ContextWindow: 200000},
}

// Options tune the clients built by the default catalog.
type Options struct {
	Retry  llm.RetryPolicy
	Logger *slog.Logger
}

// Default returns a registry holding every built-in provider. Clients are
// only constructed when a factory is invoked, so missing credentials for an
// unused provider are not an error.
func Default(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	wrap := func(c llm.Client, err error) (llm.Client, error) {
		if err != nil {
			return nil, err
		}
		return llm.NewRetryingClient(c, opts.Retry, logger), nil
	}

	r := NewRegistry()
	r.Register(Provider{
		ID: ProviderAnthropic, Name: "Anthropic", Models: anthropicModels,
		NewClient: func(ctx context.Context) (llm.Client, error) {
			return wrap(llm.NewAnthropicClient(logger))
		},
	})
	r.Register(Provider{
		ID: ProviderOpenAI, Name: "OpenAI", Models: openAIModels,
		NewClient: func(ctx context.Context) (llm.Client, error) {
			return wrap(llm.NewOpenAIClient(logger))
		},
	})
	r.Register(Provider{
		ID: ProviderGemini, Name: "Google Gemini", Models: geminiModels,
		NewClient: func(ctx context.Context) (llm.Client, error) {
			return wrap(llm.NewGeminiClient(ctx, logger))
		},
	})
	r.Register(Provider{
		ID: ProviderBedrock, Name: "AWS Bedrock", Models: bedrockModels,
		NewClient: func(ctx context.Context) (llm.Client, error) {
			return wrap(llm.NewBedrockClient(ctx, logger))
		},
	})
	r.Register(Provider{
		ID: ProviderMock, Name: "Mock", Models: mockModels,
		NewClient: func(ctx context.Context) (llm.Client, error) {
			return llm.NewMockClient(), nil
		},
	})
	return r
}

// ApplyConfig adds the models declared in configuration to their providers.
func ApplyConfig(r *Registry, custom []config.CustomModel) error {
	for _, cm := range custom {
		name := cm.Name
		if name == "" {
			name = cm.ID
		}
		m := Model{
			ID:            cm.ID,
			Name:          name,
			ContextWindow: cm.ContextWindow,
			Pricing: Pricing{
				InputCost:      cm.Pricing.Input,
				OutputCost:     cm.Pricing.Output,
				CacheReadCost:  cm.Pricing.CacheRead,
				CacheWriteCost: cm.Pricing.CacheWrite,
			},
		}
		if err := r.AddModel(cm.Provider, m); err != nil {
			return errors.Wrapf(err, "custom model %s", cm.ID)
		}
	}
	return nil
}
