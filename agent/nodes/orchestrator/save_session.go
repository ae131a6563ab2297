package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
	statex "github.com/tanpawarit/agentic-research-assistant/agent/state"
)

// TurnSink receives every committed request, for example a message queue.
type TurnSink interface {
	Publish(ctx context.Context, sessionID string, rec statex.RequestRecord) error
}

// SaveSession persists the session after a commit. Persistence failures are
// logged and never fail the request: memory already holds the turns.
func SaveSession(ctx context.Context, in *GraphState, store statex.Store, sink TurnSink) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.failed() || len(in.Committed) == 0 {
		return in, nil
	}

	if store != nil {
		if err := store.Save(ctx, in.Runtime.Session.Record()); err != nil {
			log.Error().Err(err).Str("session_id", in.SessionID).Msg("orchestrator: save session failed")
		} else {
			in.Saved = true
		}
	}
	if sink != nil {
		if err := sink.Publish(ctx, in.SessionID, in.Record); err != nil {
			log.Error().Err(err).Str("session_id", in.SessionID).Msg("orchestrator: publish turn failed")
		}
	}
	return in, nil
}
