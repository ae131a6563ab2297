package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
	memoryx "github.com/tanpawarit/agentic-research-assistant/agent/memory"
)

// ReadMemory retrieves the turns most relevant to the request. An empty
// memory is not an error; planning proceeds without context.
func ReadMemory(ctx context.Context, in *GraphState, maxItems int) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.failed() {
		return in, nil
	}

	turns, err := in.Runtime.Session.Memory().Retrieve(memoryx.Query{
		Text:     in.Text,
		MaxItems: maxItems,
	})
	switch {
	case errors.Is(err, contractx.ErrEmptyContext):
		log.Debug().Str("session_id", in.SessionID).Msg("orchestrator: no memory context")
	case err != nil:
		in.Err = err
		return in, nil
	}

	// Retrieve ranks by relevance; planners read context oldest first.
	in.Context = oldestFirst(turns)
	return in, nil
}

func oldestFirst(turns []contractx.Turn) []contractx.Turn {
	out := append([]contractx.Turn(nil), turns...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
