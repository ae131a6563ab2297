package orchestratornode

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
)

// FinalizeReply releases the session and shapes the caller-facing result.
// RateLimitExceeded travels next to the degraded reply so callers can show
// the quota state.
func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.Lease.Release()

	if in.Err != nil {
		return GraphOutput{Err: in.Err}, nil
	}

	out := GraphOutput{
		Reply:   strings.TrimSpace(in.Outcome.Response),
		Outcome: in.Outcome,
	}
	if in.Outcome.Degraded && errors.Is(in.Outcome.Cause, contractx.ErrRateLimitExceeded) {
		out.Err = in.Outcome.Cause
	}

	log.Info().
		Str("session_id", in.SessionID).
		Str("request_id", in.RequestID).
		Bool("degraded", in.Outcome.Degraded).
		Int("replans", in.Outcome.Replans).
		Int("steps", len(in.Outcome.Results)).
		Bool("saved", in.Saved).
		Msg("orchestrator: request completed")
	return out, nil
}
