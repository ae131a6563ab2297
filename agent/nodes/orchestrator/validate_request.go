package orchestratornode

import (
	"errors"
	"strings"
	"sync"
	"time"

	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
	statex "github.com/tanpawarit/agentic-research-assistant/agent/state"
)

var (
	ErrInvalidMessage = errors.New("message is empty")
	ErrInvalidSession = statex.ErrInvalidSession
)

// Lease releases the per-session request slot taken by LoadOrCreateSession.
// The caller owns it and must call Release once the graph returns.
type Lease struct {
	mu      sync.Mutex
	release func()
}

func (l *Lease) set(release func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.release = release
}

func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.mu.Lock()
	release := l.release
	l.release = nil
	l.mu.Unlock()
	if release != nil {
		release()
	}
}

type GraphInput struct {
	SessionID string
	Text      string
	Lease     *Lease
}

type GraphOutput struct {
	Reply   string
	Outcome contractx.Outcome
	// Err is the error SubmitRequest returns next to Reply.
	Err error
}

// GraphState flows through every node. Err is terminal: once set, later nodes
// pass the state through untouched and nothing is committed.
type GraphState struct {
	SessionID string
	RequestID string
	Text      string
	Now       time.Time
	Lease     *Lease

	Runtime *SessionRuntime
	Context []contractx.Turn

	Plan    *contractx.Plan
	PlanErr error
	Outcome contractx.Outcome

	Committed []contractx.Turn
	Record    statex.RequestRecord
	Saved     bool

	Err error
}

func (s *GraphState) failed() bool {
	return s == nil || s.Err != nil
}

func ValidateRequest(in GraphInput, nowFn func() time.Time, newID func() string) (*GraphState, error) {
	st := &GraphState{
		Now:   nowFn().UTC(),
		Lease: in.Lease,
	}
	if st.Lease == nil {
		st.Lease = &Lease{}
	}

	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		st.Err = ErrInvalidSession
		return st, nil
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		st.Err = ErrInvalidMessage
		return st, nil
	}

	st.SessionID = sessionID
	st.Text = text
	st.RequestID = newID()
	return st, nil
}
