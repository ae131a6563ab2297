package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
	promptx "github.com/tanpawarit/agentic-research-assistant/agent/prompt"
)

// maxOutputRunes caps a step output before it is fed to later steps and
// synthesis.
const maxOutputRunes = 6000

type stepInput struct {
	StepID int    `json:"step_id"`
	Tool   string `json:"tool"`
	Output string `json:"output"`
}

// respond answers a respond step with the language model, using the outputs of
// the steps it depends on.
func (e *Executor) respond(ctx context.Context, req contractx.ExecutionRequest, st contractx.Step, deps []contractx.StepResult) (string, error) {
	instruction := stringParam(st.Input, "instruction")
	if instruction == "" {
		instruction = st.Description
	}
	if instruction == "" {
		instruction = req.Request
	}

	inputs := make([]stepInput, 0, len(deps))
	for _, d := range deps {
		inputs = append(inputs, stepInput{StepID: d.StepID, Tool: d.Tool, Output: d.Output})
	}
	payload, err := json.Marshal(map[string]any{
		"request":     req.Request,
		"instruction": instruction,
		"inputs":      inputs,
	})
	if err != nil {
		return "", fmt.Errorf("marshal respond payload: %w", err)
	}

	text, err := e.complete(ctx, e.prompts.Respond, string(payload), e.cfg.RespondMaxTokens)
	if err != nil {
		return "", err
	}
	return truncate(text), nil
}

type synthesisTurn struct {
	Role    contractx.Role `json:"role"`
	Content string         `json:"content"`
	Summary bool           `json:"summary,omitempty"`
}

// synthesize merges the successful outputs into the final response with one
// model call.
func (e *Executor) synthesize(ctx context.Context, req contractx.ExecutionRequest, successes []contractx.StepResult) (string, error) {
	turns := make([]synthesisTurn, 0, len(req.Context))
	for _, t := range req.Context {
		turns = append(turns, synthesisTurn{Role: t.Role, Content: t.Content, Summary: t.Summary})
	}
	results := make([]stepInput, 0, len(successes))
	for _, r := range successes {
		results = append(results, stepInput{StepID: r.StepID, Tool: r.Tool, Output: r.Output})
	}
	payload, err := json.Marshal(map[string]any{
		"request": req.Request,
		"context": turns,
		"results": results,
	})
	if err != nil {
		return "", fmt.Errorf("marshal synthesis payload: %w", err)
	}

	text, err := e.complete(ctx, e.prompts.Synthesize, string(payload), e.cfg.SynthesisMaxTokens)
	if err != nil {
		return "", fmt.Errorf("synthesis: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: synthesis returned empty text", contractx.ErrSchemaViolation)
	}
	return text, nil
}

func (e *Executor) complete(ctx context.Context, system, input string, maxTokens int) (string, error) {
	sys, user, err := promptx.Render(ctx, system, input)
	if err != nil {
		return "", err
	}
	return e.completer.Complete(ctx, contractx.CompletionRequest{
		System:      sys,
		Prompt:      user,
		MaxTokens:   maxTokens,
		Temperature: e.cfg.Temperature,
	})
}

func stringParam(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// formatOutput renders a tool result as text: strings pass through, anything
// else becomes compact JSON.
func formatOutput(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return truncate(x)
	case fmt.Stringer:
		return truncate(x.String())
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return truncate(fmt.Sprint(v))
	}
	return truncate(string(raw))
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxOutputRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxOutputRunes]) + "…"
}
