package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
)

func ExecutePlan(ctx context.Context, in *GraphState) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.failed() {
		return in, nil
	}

	out, err := in.Runtime.Executor.Execute(ctx, contractx.ExecutionRequest{
		Request: in.Text,
		Context: in.Context,
		Plan:    in.Plan,
		Now:     in.Now,
	})
	if err != nil {
		in.Err = err
		return in, nil
	}
	in.Outcome = out
	return in, nil
}

// DegradeReply turns a planning failure into a user-visible response. The
// session stays usable for the next request.
func DegradeReply(_ context.Context, in *GraphState) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.failed() {
		return in, nil
	}

	cause := in.PlanErr
	if cause == nil {
		cause = fmt.Errorf("%w: plan has no steps", contractx.ErrPlanningFailure)
	}
	var plans []contractx.Plan
	if in.Plan != nil {
		plans = []contractx.Plan{*in.Plan}
	}
	in.Outcome = contractx.Outcome{
		Response: fmt.Sprintf("%s: %v", contractx.DegradedPrefix, cause),
		Plans:    plans,
		Degraded: true,
		Cause:    cause,
	}
	return in, nil
}
