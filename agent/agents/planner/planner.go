package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
	promptx "github.com/tanpawarit/agentic-research-assistant/agent/prompt"
	toolx "github.com/tanpawarit/agentic-research-assistant/agent/tool"
)

const (
	defaultMaxSteps    = 8
	defaultMaxTokens   = 1200
	defaultTemperature = 0.2
)

// Planner turns a request into a Plan with the language model as the
// decomposition engine.
type Planner struct {
	completer   contractx.Completer
	tools       []toolx.Spec
	prompts     promptx.PromptSet
	maxSteps    int
	maxTokens   int
	temperature float32
	newID       func() string
	parser      schema.MessageParser[planOutput]
}

var _ contractx.Planner = (*Planner)(nil)

type Option func(*Planner)

func WithMaxSteps(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.maxSteps = n
		}
	}
}

func WithMaxTokens(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

func WithTemperature(t float32) Option {
	return func(p *Planner) {
		if t >= 0 {
			p.temperature = t
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(p *Planner) {
		if fn != nil {
			p.newID = fn
		}
	}
}

type planOutput struct {
	Steps []stepOutput `json:"steps"`
}

type stepOutput struct {
	ID          int            `json:"id"`
	Tool        string         `json:"tool"`
	Input       map[string]any `json:"input"`
	DependsOn   []int          `json:"depends_on"`
	Description string         `json:"description"`
}

func New(completer contractx.Completer, tools []toolx.Spec, prompts promptx.PromptSet, opts ...Option) (*Planner, error) {
	if completer == nil {
		return nil, fmt.Errorf("%w: planner completer is nil", contractx.ErrValidation)
	}
	if err := prompts.Validate(); err != nil {
		return nil, err
	}

	p := &Planner{
		completer:   completer,
		tools:       tools,
		prompts:     prompts,
		maxSteps:    defaultMaxSteps,
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemperature,
		newID:       uuid.NewString,
		parser: schema.NewMessageJSONParser[planOutput](&schema.MessageJSONParseConfig{
			ParseFrom: schema.MessageParseFromContent,
		}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Plan produces a new Plan. With PriorResults set it re-plans around the
// failures of req.Previous and may return an empty plan.
func (p *Planner) Plan(ctx context.Context, req contractx.PlannerRequest) (*contractx.Plan, error) {
	request := strings.TrimSpace(req.Request)
	if request == "" {
		return nil, fmt.Errorf("%w: %w: request is empty", contractx.ErrPlanningFailure, contractx.ErrValidation)
	}
	replanning := len(req.PriorResults) > 0
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	input, err := json.Marshal(p.payload(request, now, req))
	if err != nil {
		return nil, fmt.Errorf("%w: marshal planner payload: %v", contractx.ErrPlanningFailure, err)
	}

	system := p.prompts.Planner
	if replanning {
		system = p.prompts.Replan
	}
	systemText, userText, err := promptx.Render(ctx, system, string(input))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", contractx.ErrPlanningFailure, err)
	}

	text, err := p.completer.Complete(ctx, contractx.CompletionRequest{
		System:      systemText,
		Prompt:      userText,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", contractx.ErrPlanningFailure, err)
	}

	steps, err := p.parse(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := validateSteps(steps); err != nil {
		return nil, err
	}
	if len(steps) > p.maxSteps {
		log.Warn().Int("steps", len(steps)).Int("max_steps", p.maxSteps).Msg("planner: plan truncated")
		steps = steps[:p.maxSteps]
	}

	plan := &contractx.Plan{
		ID:        p.newID(),
		Request:   request,
		Steps:     steps,
		CreatedAt: now.UTC(),
	}
	if req.Previous != nil {
		plan.Revision = req.Previous.Revision + 1
	}

	if replanning {
		plan.Steps = dropRepeatedFailures(plan.Steps, req.PriorResults)
	} else if len(plan.Steps) == 0 {
		plan.Steps = []contractx.Step{{
			ID:          1,
			Tool:        contractx.RespondTool,
			Input:       map[string]any{"instruction": request},
			Description: "answer directly",
		}}
	}

	log.Debug().
		Str("plan_id", plan.ID).
		Int("revision", plan.Revision).
		Int("steps", len(plan.Steps)).
		Msg("planner: plan produced")
	return plan, nil
}

type contextTurn struct {
	Role      contractx.Role `json:"role"`
	Content   string         `json:"content"`
	ToolName  string         `json:"tool_name,omitempty"`
	Timestamp string         `json:"timestamp"`
	Summary   bool           `json:"summary,omitempty"`
}

func (p *Planner) payload(request string, now time.Time, req contractx.PlannerRequest) map[string]any {
	turns := make([]contextTurn, 0, len(req.Context))
	for _, t := range req.Context {
		turns = append(turns, contextTurn{
			Role:      t.Role,
			Content:   t.Content,
			ToolName:  t.ToolName,
			Timestamp: t.Timestamp.UTC().Format(time.RFC3339),
			Summary:   t.Summary,
		})
	}

	out := map[string]any{
		"request": request,
		"now":     now.UTC().Format(time.RFC3339),
		"context": turns,
		"tools":   p.tools,
	}
	if len(req.PriorResults) > 0 {
		out["results"] = req.PriorResults
		if req.Previous != nil {
			out["previous_plan"] = req.Previous.Steps
		}
	}
	return out
}

func (p *Planner) parse(ctx context.Context, text string) ([]contractx.Step, error) {
	raw, err := extractPlanJSON(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", contractx.ErrPlanningFailure, contractx.ErrSchemaViolation, err)
	}
	out, err := p.parser.Parse(ctx, schema.AssistantMessage(raw, nil))
	if err != nil {
		return nil, fmt.Errorf("%w: %w: parse plan: %v", contractx.ErrPlanningFailure, contractx.ErrSchemaViolation, err)
	}

	steps := make([]contractx.Step, 0, len(out.Steps))
	for _, s := range out.Steps {
		steps = append(steps, contractx.Step{
			ID:          s.ID,
			Tool:        strings.TrimSpace(s.Tool),
			Input:       s.Input,
			DependsOn:   normalizeDeps(s.DependsOn),
			Description: strings.TrimSpace(s.Description),
		})
	}
	return steps, nil
}

var errCyclicPlan = errors.New("plan dependencies must reference earlier steps with smaller ids")

// validateSteps enforces unique positive ids, non-empty tools and dependencies
// that point only at earlier steps with a smaller id, which rules out cycles.
func validateSteps(steps []contractx.Step) error {
	seen := make(map[int]bool, len(steps))
	for i, st := range steps {
		if st.ID <= 0 {
			return fmt.Errorf("%w: %w: step #%d has invalid id=%d", contractx.ErrPlanningFailure, contractx.ErrSchemaViolation, i+1, st.ID)
		}
		if seen[st.ID] {
			return fmt.Errorf("%w: %w: duplicate step id=%d", contractx.ErrPlanningFailure, contractx.ErrSchemaViolation, st.ID)
		}
		if st.Tool == "" {
			return fmt.Errorf("%w: %w: step id=%d has no tool", contractx.ErrPlanningFailure, contractx.ErrSchemaViolation, st.ID)
		}
		for _, dep := range st.DependsOn {
			if dep >= st.ID || !seen[dep] {
				return fmt.Errorf("%w: %w: step id=%d depends on id=%d", contractx.ErrPlanningFailure, errCyclicPlan, st.ID, dep)
			}
		}
		seen[st.ID] = true
	}
	return nil
}

func normalizeDeps(deps []int) []int {
	if len(deps) == 0 {
		return nil
	}
	seen := make(map[int]bool, len(deps))
	out := make([]int, 0, len(deps))
	for _, d := range deps {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}
