package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
	memoryx "github.com/tanpawarit/agentic-research-assistant/agent/memory"
	statex "github.com/tanpawarit/agentic-research-assistant/agent/state"
)

var testNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func newState(t *testing.T) *GraphState {
	t.Helper()
	mem, err := memoryx.New(memoryx.DefaultLimits)
	if err != nil {
		t.Fatalf("memory.New() error = %v", err)
	}
	session, err := statex.NewSession("s-1", mem, testNow)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return &GraphState{
		SessionID: "s-1",
		RequestID: "r-1",
		Text:      "what is 6*7?",
		Now:       testNow,
		Lease:     &Lease{},
		Runtime:   &SessionRuntime{Session: session},
	}
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()

	newID := func() string { return "r-1" }
	st, err := ValidateRequest(GraphInput{SessionID: " s-1 ", Text: " hi "}, fixedNow, newID)
	if err != nil {
		t.Fatalf("ValidateRequest() error = %v", err)
	}
	if st.Err != nil || st.SessionID != "s-1" || st.Text != "hi" || st.RequestID != "r-1" || st.Lease == nil {
		t.Fatalf("unexpected state: %+v", st)
	}

	st, _ = ValidateRequest(GraphInput{SessionID: "", Text: "hi"}, fixedNow, newID)
	if !errors.Is(st.Err, ErrInvalidSession) {
		t.Fatalf("Err = %v, want ErrInvalidSession", st.Err)
	}
	st, _ = ValidateRequest(GraphInput{SessionID: "s", Text: "\t"}, fixedNow, newID)
	if !errors.Is(st.Err, ErrInvalidMessage) {
		t.Fatalf("Err = %v, want ErrInvalidMessage", st.Err)
	}
}

func TestRouteAfterPlan(t *testing.T) {
	t.Parallel()

	st := newState(t)
	st.Plan = &contractx.Plan{Steps: []contractx.Step{{ID: 1, Tool: contractx.RespondTool}}}
	if got, _ := RouteAfterPlan(context.Background(), st); got != BranchExecute {
		t.Fatalf("RouteAfterPlan() = %q, want %q", got, BranchExecute)
	}
	st.PlanErr = contractx.ErrPlanningFailure
	if got, _ := RouteAfterPlan(context.Background(), st); got != BranchDegrade {
		t.Fatalf("RouteAfterPlan() with PlanErr = %q", got)
	}
	st.PlanErr = nil
	st.Plan = &contractx.Plan{}
	if got, _ := RouteAfterPlan(context.Background(), st); got != BranchDegrade {
		t.Fatalf("RouteAfterPlan() with empty plan = %q", got)
	}
}

func TestDegradeReplyKeepsCause(t *testing.T) {
	t.Parallel()

	st := newState(t)
	st.PlanErr = fmt.Errorf("%w: %w", contractx.ErrPlanningFailure, contractx.ErrRateLimitExceeded)
	st, err := DegradeReply(context.Background(), st)
	if err != nil {
		t.Fatalf("DegradeReply() error = %v", err)
	}
	if !st.Outcome.Degraded || !strings.HasPrefix(st.Outcome.Response, contractx.DegradedPrefix) {
		t.Fatalf("unexpected outcome: %+v", st.Outcome)
	}

	out, err := FinalizeReply(st)
	if err != nil {
		t.Fatalf("FinalizeReply() error = %v", err)
	}
	if !errors.Is(out.Err, contractx.ErrRateLimitExceeded) || out.Reply == "" {
		t.Fatalf("FinalizeReply() = %+v, want reply with ErrRateLimitExceeded", out)
	}
}

func TestCommitMemoryAggregatesToolTurns(t *testing.T) {
	t.Parallel()

	st := newState(t)
	st.Outcome = contractx.Outcome{
		Response: "42",
		Results: []contractx.StepResult{
			{StepID: 1, Tool: "math.evaluate", Status: contractx.StepSuccess, Output: `{"result":42}`},
			{StepID: 2, Tool: "web.search", Status: contractx.StepFailure, Error: "no results"},
			{StepID: 3, Tool: contractx.RespondTool, Status: contractx.StepSuccess, Output: "42"},
		},
	}

	st, err := CommitMemory(context.Background(), st, fixedNow)
	if err != nil {
		t.Fatalf("CommitMemory() error = %v", err)
	}
	if st.Err != nil {
		t.Fatalf("CommitMemory() state error = %v", st.Err)
	}
	if len(st.Committed) != 3 {
		t.Fatalf("committed %d turns, want 3", len(st.Committed))
	}
	tool := st.Committed[1]
	if tool.Role != contractx.RoleTool || tool.ToolName != AggregatedToolName {
		t.Fatalf("unexpected tool turn: %+v", tool)
	}
	if !strings.Contains(tool.Content, "no results") || strings.Contains(tool.Content, "respond") {
		t.Fatalf("unexpected tool content: %q", tool.Content)
	}
	if st.Record.ID != "r-1" || len(st.Runtime.Session.History()) != 1 {
		t.Fatalf("request record not committed: %+v", st.Record)
	}
}

func TestCommitMemorySkipsCancelledRequest(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := newState(t)
	st.Outcome = contractx.Outcome{Response: "late"}

	st, _ = CommitMemory(ctx, st, fixedNow)
	if !errors.Is(st.Err, contractx.ErrCancelledRequest) {
		t.Fatalf("Err = %v, want ErrCancelledRequest", st.Err)
	}
	if got := st.Runtime.Session.Memory().Stats().Total; got != 0 {
		t.Fatalf("cancelled request committed %d turns", got)
	}
}

// evictingResolver hands out a stale runtime first, as if the session was
// ended while the request waited for its lease.
type evictingResolver struct {
	stale, current *SessionRuntime
	resolves       int
}

func (r *evictingResolver) Resolve(context.Context, string, time.Time) (*SessionRuntime, error) {
	r.resolves++
	if r.resolves == 1 {
		return r.stale, nil
	}
	return r.current, nil
}

func (r *evictingResolver) Current(_ string, rt *SessionRuntime) bool {
	return rt == r.current
}

func TestLoadOrCreateSessionSkipsEvictedRuntime(t *testing.T) {
	t.Parallel()

	stale := newState(t).Runtime
	current := newState(t).Runtime
	resolver := &evictingResolver{stale: stale, current: current}

	st := newState(t)
	st.Runtime = nil
	st, err := LoadOrCreateSession(context.Background(), st, resolver)
	if err != nil || st.Err != nil {
		t.Fatalf("LoadOrCreateSession() error = %v, state err = %v", err, st.Err)
	}
	if st.Runtime != current {
		t.Fatal("request bound to an evicted runtime")
	}
	if resolver.resolves != 2 {
		t.Fatalf("Resolve called %d times, want 2", resolver.resolves)
	}

	release, err := stale.Session.TryAcquire()
	if err != nil {
		t.Fatalf("stale session lease was not released: %v", err)
	}
	release()
	if _, err := current.Session.TryAcquire(); err == nil {
		t.Fatal("current session lease is not held by the request")
	}
	st.Lease.Release()
}

func TestLeaseReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	calls := 0
	l := &Lease{}
	l.set(func() { calls++ })
	l.Release()
	l.Release()
	var nilLease *Lease
	nilLease.Release()
	if calls != 1 {
		t.Fatalf("release called %d times, want 1", calls)
	}
}
