package prompt

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
)

var (
	//go:embed template/planner.txt
	plannerRaw string

	//go:embed template/replan.txt
	replanRaw string

	//go:embed template/respond.txt
	respondRaw string

	//go:embed template/synthesize.txt
	synthesizeRaw string
)

// PromptSet holds the system prompts. They are FString templates, so literal
// braces are doubled.
type PromptSet struct {
	Planner    string
	Replan     string
	Respond    string
	Synthesize string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Planner:    strings.TrimSpace(plannerRaw),
		Replan:     strings.TrimSpace(replanRaw),
		Respond:    strings.TrimSpace(respondRaw),
		Synthesize: strings.TrimSpace(synthesizeRaw),
	}
}

func (p PromptSet) Validate() error {
	for name, v := range map[string]string{
		"planner":    p.Planner,
		"replan":     p.Replan,
		"respond":    p.Respond,
		"synthesize": p.Synthesize,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s", contractx.ErrPromptMissing, name)
		}
	}
	return nil
}

// Render formats system as the system message and input as the user message.
func Render(ctx context.Context, system, input string) (string, string, error) {
	if strings.TrimSpace(system) == "" {
		return "", "", fmt.Errorf("%w: system prompt is empty", contractx.ErrPromptMissing)
	}
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(system),
		schema.UserMessage("{input}"),
	)
	msgs, err := template.Format(ctx, map[string]any{"input": input})
	if err != nil {
		return "", "", fmt.Errorf("format prompt: %w", err)
	}
	if len(msgs) != 2 {
		return "", "", fmt.Errorf("format prompt: expected 2 messages, got %d", len(msgs))
	}
	return msgs[0].Content, msgs[1].Content, nil
}
