package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openaisdk "github.com/openai/openai-go"
	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
)

// Backend is one remote completion endpoint. Implementations make exactly one
// network call per Generate and report failures as *RemoteError.
type Backend interface {
	Generate(ctx context.Context, req contractx.CompletionRequest) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req contractx.CompletionRequest) (string, error)

func (f BackendFunc) Generate(ctx context.Context, req contractx.CompletionRequest) (string, error) {
	return f(ctx, req)
}

// RemoteError is a backend failure with its retry classification.
type RemoteError struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status=%d retryable=%t: %v", e.Provider, e.StatusCode, e.Retryable, e.Err)
	}
	return fmt.Sprintf("%s: retryable=%t: %v", e.Provider, e.Retryable, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

func retryableStatus(code int) bool {
	switch {
	case code == 0:
		return true
	case code == 408, code == 409, code == 425, code == 429:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

func remoteError(provider string, status int, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &RemoteError{
		Provider:   provider,
		StatusCode: status,
		Retryable:  retryableStatus(status),
		Err:        err,
	}
}

// ChatModelBackend drives an eino chat model.
type ChatModelBackend struct {
	model model.BaseChatModel
}

func NewChatModelBackend(m model.BaseChatModel) *ChatModelBackend {
	return &ChatModelBackend{model: m}
}

// eino surfaces provider errors as text only.
var statusCodePattern = regexp.MustCompile(`status code: (\d{3})`)

func (b *ChatModelBackend) Generate(ctx context.Context, req contractx.CompletionRequest) (string, error) {
	if b == nil || b.model == nil {
		return "", errors.New("chat model backend is not configured")
	}

	messages := make([]*schema.Message, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, schema.SystemMessage(req.System))
	}
	messages = append(messages, schema.UserMessage(req.Prompt))

	opts := []model.Option{model.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}

	msg, err := b.model.Generate(ctx, messages, opts...)
	if err != nil {
		status := 0
		if m := statusCodePattern.FindStringSubmatch(err.Error()); len(m) == 2 {
			status, _ = strconv.Atoi(m[1])
		}
		return "", remoteError("chat_model", status, err)
	}
	if msg == nil {
		return "", remoteError("chat_model", 0, errors.New("empty response message"))
	}
	return msg.Content, nil
}

// OpenAIBackend calls chat completions through openai-go.
type OpenAIBackend struct {
	client    *openaisdk.Client
	model     string
	maxTokens int
}

func NewOpenAIBackend(client *openaisdk.Client, modelName string, maxTokens int) *OpenAIBackend {
	return &OpenAIBackend{client: client, model: modelName, maxTokens: maxTokens}
}

func (b *OpenAIBackend) Generate(ctx context.Context, req contractx.CompletionRequest) (string, error) {
	if b == nil || b.client == nil {
		return "", errors.New("openai backend is not configured")
	}

	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openaisdk.SystemMessage(req.System))
	}
	messages = append(messages, openaisdk.UserMessage(req.Prompt))

	params := openaisdk.ChatCompletionNewParams{
		Model:       openaisdk.ChatModel(b.model),
		Messages:    messages,
		Temperature: openaisdk.Float(float64(req.Temperature)),
	}
	if n := pickMaxTokens(req.MaxTokens, b.maxTokens); n > 0 {
		params.MaxTokens = openaisdk.Int(int64(n))
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openaisdk.Error
		if errors.As(err, &apiErr) {
			return "", remoteError("openai", apiErr.StatusCode, err)
		}
		return "", remoteError("openai", 0, err)
	}
	if len(resp.Choices) == 0 {
		return "", remoteError("openai", 0, errors.New("completion has no choices"))
	}
	return resp.Choices[0].Message.Content, nil
}

// AnthropicBackend calls the messages API through anthropic-sdk-go.
type AnthropicBackend struct {
	client    *anthropicsdk.Client
	model     string
	maxTokens int
}

func NewAnthropicBackend(client *anthropicsdk.Client, modelName string, maxTokens int) *AnthropicBackend {
	return &AnthropicBackend{client: client, model: modelName, maxTokens: maxTokens}
}

func (b *AnthropicBackend) Generate(ctx context.Context, req contractx.CompletionRequest) (string, error) {
	if b == nil || b.client == nil {
		return "", errors.New("anthropic backend is not configured")
	}

	maxTokens := pickMaxTokens(req.MaxTokens, b.maxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropicsdk.MessageNewParams{
		Model:       anthropicsdk.Model(b.model),
		MaxTokens:   int64(maxTokens),
		Messages:    []anthropicsdk.MessageParam{anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(req.Prompt))},
		Temperature: anthropicsdk.Float(float64(req.Temperature)),
	}
	if strings.TrimSpace(req.System) != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := b.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropicsdk.Error
		if errors.As(err, &apiErr) {
			return "", remoteError("anthropic", apiErr.StatusCode, err)
		}
		return "", remoteError("anthropic", 0, err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			out.WriteString(tb.Text)
		}
	}
	return out.String(), nil
}

func pickMaxTokens(requested, fallback int) int {
	if requested > 0 {
		return requested
	}
	return fallback
}
