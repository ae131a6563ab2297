package contract

import (
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// Turn is one recorded utterance. Turns are values; the memory manager never
// hands out pointers into its tiers.
type Turn struct {
	Seq        uint64    `json:"seq" toml:"seq" msgpack:"seq"`
	Role       Role      `json:"role" toml:"role" msgpack:"role"`
	Content    string    `json:"content" toml:"content" msgpack:"content"`
	Timestamp  time.Time `json:"timestamp" toml:"timestamp" msgpack:"timestamp"`
	ToolName   string    `json:"tool_name,omitempty" toml:"tool_name,omitempty" msgpack:"tool_name,omitempty"`
	Importance float64   `json:"importance,omitempty" toml:"importance,omitempty" msgpack:"importance,omitempty"`
	Summary    bool      `json:"summary,omitempty" toml:"summary,omitempty" msgpack:"summary,omitempty"`
	// Covers is the number of raw turns merged into a summary turn.
	Covers int `json:"covers,omitempty" toml:"covers,omitempty" msgpack:"covers,omitempty"`
}

// RespondTool is the step action answered by the language model instead of a
// registered tool.
const RespondTool = "respond"

type Step struct {
	ID          int            `json:"id" toml:"id" msgpack:"id"`
	Tool        string         `json:"tool" toml:"tool" msgpack:"tool"`
	Input       map[string]any `json:"input,omitempty" toml:"input,omitempty" msgpack:"input,omitempty"`
	DependsOn   []int          `json:"depends_on,omitempty" toml:"depends_on,omitempty" msgpack:"depends_on,omitempty"`
	Description string         `json:"description,omitempty" toml:"description,omitempty" msgpack:"description,omitempty"`
}

// Plan is immutable once execution starts. Re-planning yields a new Plan with
// Revision incremented.
type Plan struct {
	ID        string    `json:"id" toml:"id" msgpack:"id"`
	Request   string    `json:"request" toml:"request" msgpack:"request"`
	Revision  int       `json:"revision" toml:"revision" msgpack:"revision"`
	Steps     []Step    `json:"steps" toml:"steps" msgpack:"steps"`
	CreatedAt time.Time `json:"created_at" toml:"created_at" msgpack:"created_at"`
}

func (p *Plan) IsEmpty() bool {
	return p == nil || len(p.Steps) == 0
}

// Step returns the step with the given id.
func (p *Plan) Step(id int) (Step, bool) {
	if p == nil {
		return Step{}, false
	}
	for _, st := range p.Steps {
		if st.ID == id {
			return st, true
		}
	}
	return Step{}, false
}

type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailure StepStatus = "failure"
	StepSkipped StepStatus = "skipped"
)

type StepResult struct {
	StepID       int            `json:"step_id" toml:"step_id" msgpack:"step_id"`
	PlanRevision int            `json:"plan_revision" toml:"plan_revision" msgpack:"plan_revision"`
	Tool         string         `json:"tool" toml:"tool" msgpack:"tool"`
	Input        map[string]any `json:"input,omitempty" toml:"input,omitempty" msgpack:"input,omitempty"`
	Status       StepStatus     `json:"status" toml:"status" msgpack:"status"`
	Output       string         `json:"output,omitempty" toml:"output,omitempty" msgpack:"output,omitempty"`
	Error        string         `json:"error,omitempty" toml:"error,omitempty" msgpack:"error,omitempty"`
}

type ToolStatus string

const (
	ToolOK    ToolStatus = "ok"
	ToolError ToolStatus = "error"
)

type ToolResult struct {
	Tool   string     `json:"tool"`
	Status ToolStatus `json:"status"`
	Result any        `json:"result,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// CompletionRequest is what the gateway sends to the remote model.
type CompletionRequest struct {
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature"`
}

type PlannerRequest struct {
	Request      string       `json:"request"`
	Context      []Turn       `json:"context,omitempty"`
	PriorResults []StepResult `json:"prior_results,omitempty"`
	Previous     *Plan        `json:"previous,omitempty"`
	Now          time.Time    `json:"now"`
}

// ExecutionRequest is one plan run on behalf of a request.
type ExecutionRequest struct {
	Request string
	Context []Turn
	Plan    *Plan
	Now     time.Time
}

// DegradedPrefix starts every response produced when a request cannot be
// completed.
const DegradedPrefix = "unable to complete the request"

// Outcome is what the executor hands back for one request.
type Outcome struct {
	Response string       `json:"response"`
	Plans    []Plan       `json:"plans"`
	Results  []StepResult `json:"results"`
	Replans  int          `json:"replans"`
	Degraded bool         `json:"degraded"`
	// Cause is the error behind a degraded response.
	Cause error `json:"-"`
}
