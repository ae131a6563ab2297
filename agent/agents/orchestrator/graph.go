package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	nodex "github.com/tanpawarit/agentic-research-assistant/agent/nodes/orchestrator"
)

func (o *Orchestrator) compileSubmitRequestGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	nodes := []struct {
		name   string
		lambda *compose.Lambda
	}{
		{"validate_request", compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, o.now, o.newID)
		})},
		{"load_or_create_session", compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadOrCreateSession(ctx, in, o)
		})},
		{"read_memory", compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ReadMemory(ctx, in, o.settings.ContextItems)
		})},
		{"plan_request", compose.InvokableLambda(nodex.PlanRequest)},
		{nodex.BranchExecute, compose.InvokableLambda(nodex.ExecutePlan)},
		{nodex.BranchDegrade, compose.InvokableLambda(nodex.DegradeReply)},
		{"commit_memory", compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.CommitMemory(ctx, in, o.now)
		})},
		{"save_session", compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.SaveSession(ctx, in, o.store, o.sink)
		})},
		{"finalize_reply", compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.FinalizeReply(in)
		})},
	}
	for _, n := range nodes {
		if err := graph.AddLambdaNode(n.name, n.lambda); err != nil {
			return nil, fmt.Errorf("add node %s: %w", n.name, err)
		}
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "load_or_create_session"},
		{"load_or_create_session", "read_memory"},
		{"read_memory", "plan_request"},
		{nodex.BranchExecute, "commit_memory"},
		{nodex.BranchDegrade, "commit_memory"},
		{"commit_memory", "save_session"},
		{"save_session", "finalize_reply"},
		{"finalize_reply", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	branch := compose.NewGraphBranch(nodex.RouteAfterPlan, map[string]bool{
		nodex.BranchExecute: true,
		nodex.BranchDegrade: true,
	})
	if err := graph.AddBranch("plan_request", branch); err != nil {
		return nil, fmt.Errorf("add branch plan_request: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.submit_request"))
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}
