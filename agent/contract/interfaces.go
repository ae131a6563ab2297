package contract

import "context"

// Completer is the synchronous completion capability of the gateway.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type Planner interface {
	Plan(ctx context.Context, req PlannerRequest) (*Plan, error)
}

type ToolInvoker interface {
	Invoke(ctx context.Context, tool string, params map[string]any) (ToolResult, error)
}

type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (Outcome, error)
}
