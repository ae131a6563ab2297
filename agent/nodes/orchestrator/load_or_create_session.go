package orchestratornode

import (
	"context"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
	statex "github.com/tanpawarit/agentic-research-assistant/agent/state"
)

// SessionRuntime bundles a live session with the components bound to it.
type SessionRuntime struct {
	Session  *statex.Session
	Planner  contractx.Planner
	Executor contractx.Executor
}

// SessionResolver returns the live runtime of a session, loading it from the
// store or creating it on first use. Current reports whether rt is still the
// registered runtime of sessionID.
type SessionResolver interface {
	Resolve(ctx context.Context, sessionID string, now time.Time) (*SessionRuntime, error)
	Current(sessionID string, rt *SessionRuntime) bool
}

func LoadOrCreateSession(ctx context.Context, in *GraphState, resolver SessionResolver) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.failed() {
		return in, nil
	}

	// A runtime evicted while this request waited for the lease is stale:
	// anything committed to it would be lost or resurrect a deleted session.
	for {
		rt, err := resolver.Resolve(ctx, in.SessionID, in.Now)
		if err != nil {
			in.Err = err
			return in, nil
		}
		release, err := rt.Session.Acquire(ctx)
		if err != nil {
			in.Err = err
			return in, nil
		}
		if !resolver.Current(in.SessionID, rt) {
			release()
			continue
		}
		in.Lease.set(release)
		in.Runtime = rt
		return in, nil
	}
}
