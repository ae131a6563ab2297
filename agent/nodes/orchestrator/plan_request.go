package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
)

const (
	BranchExecute = "execute_plan"
	BranchDegrade = "degrade_reply"
)

func PlanRequest(ctx context.Context, in *GraphState) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.failed() {
		return in, nil
	}

	plan, err := in.Runtime.Planner.Plan(ctx, contractx.PlannerRequest{
		Request: in.Text,
		Context: in.Context,
		Now:     in.Now,
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		in.Err = fmt.Errorf("%w: %w", contractx.ErrCancelledRequest, ctxErr)
		return in, nil
	}
	if err != nil {
		log.Warn().Err(err).Str("session_id", in.SessionID).Str("request_id", in.RequestID).Msg("orchestrator: planning failed")
		in.PlanErr = err
		return in, nil
	}
	in.Plan = plan
	return in, nil
}

// RouteAfterPlan picks the execution branch. Failed requests and failed
// planning both take the degrade branch.
func RouteAfterPlan(_ context.Context, in *GraphState) (string, error) {
	if in.failed() || in.PlanErr != nil || in.Plan.IsEmpty() {
		return BranchDegrade, nil
	}
	return BranchExecute, nil
}
