package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
	promptx "github.com/tanpawarit/agentic-research-assistant/agent/prompt"
	retryx "github.com/tanpawarit/agentic-research-assistant/pkg/retry"
)

type Config struct {
	MaxParallel int
	StepTimeout time.Duration
	// ToolAttempts bounds retries of a tool call that timed out.
	ToolAttempts       int
	ToolBackoff        time.Duration
	RespondMaxTokens   int
	SynthesisMaxTokens int
	Temperature        float32
}

var DefaultConfig = Config{
	MaxParallel:        4,
	StepTimeout:        30 * time.Second,
	ToolAttempts:       3,
	ToolBackoff:        200 * time.Millisecond,
	RespondMaxTokens:   800,
	SynthesisMaxTokens: 1500,
	Temperature:        0.5,
}

// Executor walks a plan in dependency order, re-plans at most once after a
// failure and synthesises the final response.
type Executor struct {
	planner   contractx.Planner
	tools     contractx.ToolInvoker
	completer contractx.Completer
	prompts   promptx.PromptSet
	cfg       Config
}

var _ contractx.Executor = (*Executor)(nil)

func New(planner contractx.Planner, tools contractx.ToolInvoker, completer contractx.Completer, prompts promptx.PromptSet, cfg Config) (*Executor, error) {
	if planner == nil || tools == nil || completer == nil {
		return nil, fmt.Errorf("%w: executor requires planner, tools and completer", contractx.ErrValidation)
	}
	if err := prompts.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}
	if cfg.ToolAttempts < 1 {
		cfg.ToolAttempts = 1
	}
	return &Executor{
		planner:   planner,
		tools:     tools,
		completer: completer,
		prompts:   prompts,
		cfg:       cfg,
	}, nil
}

// stepRun keeps the typed error behind a failed StepResult.
type stepRun struct {
	result contractx.StepResult
	err    error
}

// Execute never returns an error except ErrCancelledRequest; every other
// failure ends in a degraded Outcome.
func (e *Executor) Execute(ctx context.Context, req contractx.ExecutionRequest) (contractx.Outcome, error) {
	var out contractx.Outcome
	if err := ctx.Err(); err != nil {
		return out, cancelled(err)
	}
	if req.Plan.IsEmpty() {
		return degrade(out, fmt.Errorf("%w: plan has no steps", contractx.ErrPlanningFailure)), nil
	}
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	plan := req.Plan
	out.Plans = append(out.Plans, *plan)
	runs := e.runPlan(ctx, req, plan)
	if err := ctx.Err(); err != nil {
		return out, cancelled(err)
	}

	if firstFailure(runs) != nil {
		out.Replans = 1
		prior := results(runs)
		log.Info().
			Str("plan_id", plan.ID).
			Int("failed", countStatus(prior, contractx.StepFailure)).
			Int("skipped", countStatus(prior, contractx.StepSkipped)).
			Msg("executor: step failure, re-planning")

		next, err := e.planner.Plan(ctx, contractx.PlannerRequest{
			Request:      req.Request,
			Context:      req.Context,
			PriorResults: prior,
			Previous:     plan,
			Now:          now,
		})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, cancelled(ctxErr)
		}
		if err != nil {
			out.Results = prior
			return degrade(out, err), nil
		}
		if next.IsEmpty() {
			out.Results = prior
			return degrade(out, fmt.Errorf("%w: re-planning produced no steps after: %v", contractx.ErrPlanningFailure, firstFailure(runs))), nil
		}

		out.Plans = append(out.Plans, *next)
		runs = append(runs, e.runPlan(ctx, req, next)...)
		if err := ctx.Err(); err != nil {
			return out, cancelled(err)
		}
	}

	out.Results = results(runs)
	successes := make([]contractx.StepResult, 0, len(out.Results))
	for _, r := range out.Results {
		if r.Status == contractx.StepSuccess {
			successes = append(successes, r)
		}
	}
	if len(successes) == 0 {
		return degrade(out, firstFailure(runs)), nil
	}

	response, err := e.synthesize(ctx, req, successes)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, cancelled(ctxErr)
		}
		return degrade(out, err), nil
	}
	out.Response = response
	return out, nil
}

// runPlan resolves every step of plan. Steps whose dependencies all succeeded
// run together as one wave, bounded by MaxParallel.
func (e *Executor) runPlan(ctx context.Context, req contractx.ExecutionRequest, plan *contractx.Plan) []stepRun {
	status := make(map[int]contractx.StepStatus, len(plan.Steps))
	outputs := make(map[int]contractx.StepResult, len(plan.Steps))
	runs := make([]stepRun, 0, len(plan.Steps))

	pending := plan.Steps
	for len(pending) > 0 {
		var ready, waiting []contractx.Step
		for _, st := range pending {
			blocked, unresolved := 0, false
			for _, dep := range st.DependsOn {
				switch status[dep] {
				case contractx.StepSuccess:
				case contractx.StepFailure, contractx.StepSkipped:
					blocked = dep
				default:
					unresolved = true
				}
				if blocked != 0 {
					break
				}
			}
			switch {
			case blocked != 0:
				status[st.ID] = contractx.StepSkipped
				runs = append(runs, stepRun{result: contractx.StepResult{
					StepID:       st.ID,
					PlanRevision: plan.Revision,
					Tool:         st.Tool,
					Input:        st.Input,
					Status:       contractx.StepSkipped,
					Error:        fmt.Sprintf("dependency step %d did not succeed", blocked),
				}})
			case unresolved:
				waiting = append(waiting, st)
			default:
				ready = append(ready, st)
			}
		}

		if len(ready) == 0 {
			// Only reachable with a plan that skipped validation.
			for _, st := range waiting {
				status[st.ID] = contractx.StepSkipped
				runs = append(runs, stepRun{result: contractx.StepResult{
					StepID: st.ID, PlanRevision: plan.Revision, Tool: st.Tool, Input: st.Input,
					Status: contractx.StepSkipped, Error: "unresolvable dependencies",
				}})
			}
			break
		}

		p := pool.NewWithResults[stepRun]().WithMaxGoroutines(e.cfg.MaxParallel)
		for _, st := range ready {
			st := st
			inputs := dependencyOutputs(st, outputs)
			p.Go(func() stepRun {
				return e.runStep(ctx, req, plan.Revision, st, inputs)
			})
		}
		wave := p.Wait()
		sort.Slice(wave, func(i, j int) bool { return wave[i].result.StepID < wave[j].result.StepID })

		for _, r := range wave {
			status[r.result.StepID] = r.result.Status
			outputs[r.result.StepID] = r.result
			runs = append(runs, r)
		}
		if ctx.Err() != nil {
			return runs
		}
		pending = waiting
	}

	sort.SliceStable(runs, func(i, j int) bool { return runs[i].result.StepID < runs[j].result.StepID })
	return runs
}

func (e *Executor) runStep(ctx context.Context, req contractx.ExecutionRequest, revision int, st contractx.Step, inputs []contractx.StepResult) stepRun {
	res := contractx.StepResult{
		StepID:       st.ID,
		PlanRevision: revision,
		Tool:         st.Tool,
		Input:        st.Input,
	}

	var (
		output string
		err    error
	)
	if st.Tool == contractx.RespondTool {
		output, err = e.respond(ctx, req, st, inputs)
	} else {
		output, err = e.invokeTool(ctx, st)
	}

	if err != nil {
		res.Status = contractx.StepFailure
		res.Error = err.Error()
		log.Debug().Int("step_id", st.ID).Str("tool", st.Tool).Str("status", string(res.Status)).Err(err).Msg("executor: step finished")
		return stepRun{result: res, err: err}
	}
	res.Status = contractx.StepSuccess
	res.Output = output
	log.Debug().Int("step_id", st.ID).Str("tool", st.Tool).Str("status", string(res.Status)).Msg("executor: step finished")
	return stepRun{result: res}
}

var errStepTimeout = errors.New("step timed out")

// invokeTool calls the registry with the per-step timeout. A timeout is
// transient and retried with backoff; every other error is final.
func (e *Executor) invokeTool(ctx context.Context, st contractx.Step) (string, error) {
	var result contractx.ToolResult
	_, err := retryx.Do(ctx, retryx.Policy{
		MaxAttempts: e.cfg.ToolAttempts,
		BaseDelay:   e.cfg.ToolBackoff,
		ShouldRetry: func(err error) bool { return errors.Is(err, errStepTimeout) },
		OnRetry: func(attempt int, delay time.Duration, err error) {
			log.Warn().Int("step_id", st.ID).Str("tool", st.Tool).Int("attempt", attempt).Dur("backoff", delay).Msg("executor: tool timed out, retrying")
		},
	}, func(ctx context.Context, _ int) error {
		r, err := e.invokeOnce(ctx, st)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return "", err
	}
	return formatOutput(result.Result), nil
}

type invokeResult struct {
	result contractx.ToolResult
	err    error
}

func (e *Executor) invokeOnce(ctx context.Context, st contractx.Step) (contractx.ToolResult, error) {
	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if e.cfg.StepTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.StepTimeout)
	}
	defer cancel()

	done := make(chan invokeResult, 1)
	go func() {
		r, err := e.tools.Invoke(callCtx, st.Tool, st.Input)
		done <- invokeResult{result: r, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return contractx.ToolResult{}, fmt.Errorf("%w: tool=%s after %s: %w", errStepTimeout, st.Tool, e.cfg.StepTimeout, r.err)
		}
		return r.result, r.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return contractx.ToolResult{}, err
		}
		return contractx.ToolResult{}, fmt.Errorf("%w: tool=%s after %s", errStepTimeout, st.Tool, e.cfg.StepTimeout)
	}
}

func dependencyOutputs(st contractx.Step, outputs map[int]contractx.StepResult) []contractx.StepResult {
	if len(st.DependsOn) == 0 {
		return nil
	}
	out := make([]contractx.StepResult, 0, len(st.DependsOn))
	for _, dep := range st.DependsOn {
		if r, ok := outputs[dep]; ok {
			out = append(out, r)
		}
	}
	return out
}

func results(runs []stepRun) []contractx.StepResult {
	out := make([]contractx.StepResult, len(runs))
	for i, r := range runs {
		out[i] = r.result
	}
	return out
}

func firstFailure(runs []stepRun) error {
	for _, r := range runs {
		if r.result.Status == contractx.StepFailure {
			if r.err != nil {
				return r.err
			}
			return errors.New(r.result.Error)
		}
	}
	return nil
}

func countStatus(rs []contractx.StepResult, s contractx.StepStatus) int {
	n := 0
	for _, r := range rs {
		if r.Status == s {
			n++
		}
	}
	return n
}

func degrade(out contractx.Outcome, cause error) contractx.Outcome {
	if cause == nil {
		cause = errors.New("no step succeeded")
	}
	out.Response = fmt.Sprintf("%s: %v", contractx.DegradedPrefix, cause)
	out.Degraded = true
	out.Cause = cause
	return out
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", contractx.ErrCancelledRequest, err)
}
