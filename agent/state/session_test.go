package state

import (
	"context"
	"errors"
	"testing"
	"time"

	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
	memoryx "github.com/tanpawarit/agentic-research-assistant/agent/memory"
)

var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func newTestSession(t *testing.T, id string) *Session {
	t.Helper()
	mem, err := memoryx.New(memoryx.Limits{ShortTerm: 3, Working: 5, LongTerm: 4})
	if err != nil {
		t.Fatalf("memory.New() error = %v", err)
	}
	s, err := NewSession(id, mem, testNow)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return s
}

func testRecord(request string) RequestRecord {
	plan := contractx.Plan{
		ID:        "plan-" + request,
		Request:   request,
		CreatedAt: testNow,
		Steps: []contractx.Step{
			{ID: 1, Tool: "web.search", Input: map[string]any{"query": request, "limit": 3.0}},
			{ID: 2, Tool: contractx.RespondTool, DependsOn: []int{1}, Description: "answer"},
		},
	}
	return RequestRecord{
		ID:       "req-" + request,
		Request:  request,
		Response: "answer to " + request,
		Plans:    []contractx.Plan{plan},
		Results: []contractx.StepResult{
			{StepID: 1, Tool: "web.search", Input: map[string]any{"query": request, "limit": 3.0}, Status: contractx.StepSuccess, Output: "found"},
			{StepID: 2, Tool: contractx.RespondTool, Status: contractx.StepSuccess, Output: "answer"},
		},
		StartedAt:  testNow,
		FinishedAt: testNow.Add(2 * time.Second),
	}
}

func exchange(request string, at time.Time) []contractx.Turn {
	return []contractx.Turn{
		{Role: contractx.RoleUser, Content: request, Timestamp: at},
		{Role: contractx.RoleTool, ToolName: "web.search", Content: "web.search: found", Timestamp: at},
		{Role: contractx.RoleAssistant, Content: "answer to " + request, Timestamp: at},
	}
}

func TestNewSessionRejectsEmptyID(t *testing.T) {
	t.Parallel()

	mem, _ := memoryx.New(memoryx.DefaultLimits)
	if _, err := NewSession("  ", mem, testNow); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("NewSession() error = %v, want ErrInvalidSession", err)
	}
	if _, err := NewSession("s", nil, testNow); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("NewSession() error = %v, want ErrValidation", err)
	}
}

func TestSessionCommitAppendsTurnsAndHistory(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, "s-1")
	committed, err := s.Commit(exchange("go generics", testNow), testRecord("go generics"), testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if len(committed) != 3 {
		t.Fatalf("committed %d turns, want 3", len(committed))
	}
	if committed[0].Seq >= committed[2].Seq {
		t.Fatalf("sequence numbers must increase: %d, %d", committed[0].Seq, committed[2].Seq)
	}
	if got := s.Memory().Len(memoryx.ShortTerm); got != 3 {
		t.Fatalf("short-term len = %d, want 3", got)
	}
	if got := len(s.History()); got != 1 {
		t.Fatalf("history len = %d, want 1", got)
	}
	if !s.UpdatedAt().Equal(testNow.Add(time.Minute)) {
		t.Fatalf("UpdatedAt() = %v", s.UpdatedAt())
	}
}

func TestSessionCommitIsAllOrNothing(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, "s-1")
	turns := exchange("q", testNow)
	turns[1].ToolName = ""

	if _, err := s.Commit(turns, testRecord("q"), testNow); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("Commit() error = %v, want ErrValidation", err)
	}
	if got := s.Memory().Stats().Total; got != 0 {
		t.Fatalf("memory holds %d turns after rejected commit", got)
	}
	if got := len(s.History()); got != 0 {
		t.Fatalf("history holds %d records after rejected commit", got)
	}
}

func TestSessionHistoryIsCopied(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, "s-1")
	rec := testRecord("q")
	if _, err := s.Commit(exchange("q", testNow), rec, testNow); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	rec.Plans[0].Steps[0].Input["query"] = "mutated"
	h := s.History()
	if got := h[0].Plans[0].Steps[0].Input["query"]; got != "q" {
		t.Fatalf("stored history aliased caller data: %v", got)
	}
	h[0].Results[0].Output = "mutated"
	if got := s.History()[0].Results[0].Output; got != "found" {
		t.Fatalf("History() aliased session data: %v", got)
	}
}

func TestSessionHistoryIsBounded(t *testing.T) {
	t.Parallel()

	mem, _ := memoryx.New(memoryx.DefaultLimits)
	s, err := NewSession("s", mem, testNow, WithMaxHistory(2))
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	for _, q := range []string{"a", "b", "c"} {
		if _, err := s.Commit(exchange(q, testNow), testRecord(q), testNow); err != nil {
			t.Fatalf("Commit(%s) error = %v", q, err)
		}
	}
	h := s.History()
	if len(h) != 2 || h[0].Request != "b" || h[1].Request != "c" {
		t.Fatalf("unexpected history: %+v", h)
	}
}

func TestSessionAcquireSerialisesRequests(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, "s-1")
	release, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := s.TryAcquire(); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("TryAcquire() error = %v, want ErrSessionBusy", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.Acquire(ctx); !errors.Is(err, contractx.ErrCancelledRequest) {
		t.Fatalf("Acquire() error = %v, want ErrCancelledRequest", err)
	}

	release()
	release()
	again, err := s.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire() after release error = %v", err)
	}
	again()
}

func TestRestoreSessionRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, "s-1")
	for i, q := range []string{"alpha", "beta"} {
		at := testNow.Add(time.Duration(i) * time.Minute)
		if _, err := s.Commit(exchange(q, at), testRecord(q), at); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
	}
	rec := s.Record()

	mem, _ := memoryx.New(memoryx.DefaultLimits)
	restored, err := RestoreSession(rec, mem)
	if err != nil {
		t.Fatalf("RestoreSession() error = %v", err)
	}
	if restored.ID() != "s-1" {
		t.Fatalf("ID() = %q", restored.ID())
	}
	if got, want := restored.Memory().Stats().Total, s.Memory().Stats().Total; got != want {
		t.Fatalf("restored memory total = %d, want %d", got, want)
	}
	if restored.Memory().Limits() != s.Memory().Limits() {
		t.Fatalf("restored limits = %+v", restored.Memory().Limits())
	}
	if len(restored.History()) != 2 {
		t.Fatalf("restored history = %d records", len(restored.History()))
	}
}

func TestRestoreSessionRejectsBadRecord(t *testing.T) {
	t.Parallel()

	mem, _ := memoryx.New(memoryx.DefaultLimits)
	rec := newTestSession(t, "s-1").Record()
	rec.Version = 99
	if _, err := RestoreSession(rec, mem); !errors.Is(err, ErrRecordVersion) {
		t.Fatalf("RestoreSession() error = %v, want ErrRecordVersion", err)
	}
	if _, err := RestoreSession(nil, mem); !errors.Is(err, ErrNilSessionState) {
		t.Fatalf("RestoreSession(nil) error = %v, want ErrNilSessionState", err)
	}
}
