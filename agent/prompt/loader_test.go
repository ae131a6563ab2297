package prompt

import (
	"context"
	"errors"
	"strings"
	"testing"

	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
)

func TestLoadPromptSet(t *testing.T) {
	t.Parallel()

	set := LoadPromptSet()
	if err := set.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !strings.Contains(set.Synthesize, "final, comprehensive") {
		t.Fatalf("unexpected synthesize prompt: %q", set.Synthesize)
	}
}

func TestRenderUnescapesBraces(t *testing.T) {
	t.Parallel()

	system, user, err := Render(context.Background(), LoadPromptSet().Planner, `{"request":"hi"}`)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(system, `{"steps": [{"id": 1`) {
		t.Fatalf("system prompt braces were not unescaped: %q", system)
	}
	if user != `{"request":"hi"}` {
		t.Fatalf("user = %q", user)
	}
}

func TestRenderEmptySystem(t *testing.T) {
	t.Parallel()

	if _, _, err := Render(context.Background(), " ", "x"); !errors.Is(err, contractx.ErrPromptMissing) {
		t.Fatalf("Render() error = %v, want ErrPromptMissing", err)
	}
	if err := (PromptSet{}).Validate(); !errors.Is(err, contractx.ErrPromptMissing) {
		t.Fatalf("Validate() error = %v, want ErrPromptMissing", err)
	}
}
