package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
	anthropicx "github.com/tanpawarit/agentic-research-assistant/pkg/anthropic"
	openrouterx "github.com/tanpawarit/agentic-research-assistant/pkg/openrouter"
)

type Provider string

const (
	// ProviderOpenRouter drives an eino chat model against an OpenAI-compatible endpoint.
	ProviderOpenRouter Provider = "openrouter"
	// ProviderOpenAI calls the chat completions API with openai-go directly.
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

type Config struct {
	Provider           Provider      `envconfig:"PROVIDER" default:"openrouter"`
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	// Negative temperatures fall back to Temperature.
	PlannerTemperature   float32 `envconfig:"PLANNER_TEMPERATURE" split_words:"true" default:"0.2"`
	SynthesisTemperature float32 `envconfig:"SYNTHESIS_TEMPERATURE" split_words:"true" default:"-1"`

	BreakerFailures uint32        `envconfig:"BREAKER_FAILURES" split_words:"true" default:"5"`
	BreakerCooldown time.Duration `envconfig:"BREAKER_COOLDOWN" split_words:"true" default:"30s"`
}

func (c Config) Validate() error {
	switch c.Provider {
	case ProviderOpenRouter, ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("%w: unsupported llm provider=%q", contractx.ErrValidation, c.Provider)
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: llm api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: llm model is required", contractx.ErrValidation)
	}
	return nil
}

func (c Config) PlannerTemp() float32 {
	if c.PlannerTemperature >= 0 {
		return c.PlannerTemperature
	}
	return c.Temperature
}

func (c Config) SynthesisTemp() float32 {
	if c.SynthesisTemperature >= 0 {
		return c.SynthesisTemperature
	}
	return c.Temperature
}

func (c Config) OpenRouter() openrouterx.Config {
	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              strings.TrimSpace(c.Model),
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        c.Temperature,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}

func (c Config) Anthropic() anthropicx.Config {
	baseURL := strings.TrimSpace(c.BaseURL)
	if strings.Contains(baseURL, "openrouter.ai") {
		baseURL = ""
	}
	return anthropicx.Config{
		BaseURL:            baseURL,
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              strings.TrimSpace(c.Model),
		MaxCompletionToken: c.MaxCompletionToken,
		Temperature:        c.Temperature,
		Timeout:            c.Timeout,
	}
}

// NewBackend builds the remote completion backend selected by Provider.
func NewBackend(ctx context.Context, c Config) (Backend, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	switch c.Provider {
	case ProviderOpenAI:
		orCfg := c.OpenRouter()
		client := openrouterx.NewClient(orCfg)
		if client == nil {
			return nil, fmt.Errorf("%w: openai client is not configured", contractx.ErrValidation)
		}
		return NewOpenAIBackend(client, orCfg.Model, c.MaxCompletionToken), nil
	case ProviderAnthropic:
		anCfg := c.Anthropic()
		client := anthropicx.NewClient(anCfg)
		if client == nil {
			return nil, fmt.Errorf("%w: anthropic client is not configured", contractx.ErrValidation)
		}
		return NewAnthropicBackend(client, anCfg.Model, anCfg.MaxCompletionToken), nil
	default:
		orCfg := c.OpenRouter()
		chatModel, err := orCfg.New(ctx)
		if err != nil {
			return nil, err
		}
		return NewChatModelBackend(chatModel), nil
	}
}
