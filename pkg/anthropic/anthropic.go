package anthropic

import (
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const DefaultModel = string(anthropicsdk.ModelClaude3_7SonnetLatest)

type Config struct {
	BaseURL            string        `split_words:"true"`
	APIKey             string        `split_words:"true" required:"true"`
	Model              string        `split_words:"true" default:"claude-3-7-sonnet-latest"`
	MaxCompletionToken int           `split_words:"true" default:"2000"`
	Temperature        float32       `split_words:"true" default:"0.5"`
	Timeout            time.Duration `split_words:"true" default:"30s"`
}

// NewClient creates an Anthropic SDK client. Nil is returned when no api key is set.
func NewClient(cfg Config) *anthropicsdk.Client {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		// Retries belong to the gateway.
		option.WithMaxRetries(0),
	}
	if trimmed := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	client := anthropicsdk.NewClient(opts...)
	return &client
}
