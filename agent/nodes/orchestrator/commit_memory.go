package orchestratornode

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
	statex "github.com/tanpawarit/agentic-research-assistant/agent/state"
)

const (
	// AggregatedToolName names the tool turn that merges several tools.
	AggregatedToolName = "tools"
	maxToolLineRunes   = 400
)

// CommitMemory records the request in the session: the user turn, one tool
// turn summarising the tool steps and the assistant turn. A cancelled request
// commits nothing.
func CommitMemory(ctx context.Context, in *GraphState, nowFn func() time.Time) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.failed() {
		return in, nil
	}
	if err := ctx.Err(); err != nil {
		in.Err = fmt.Errorf("%w: %w", contractx.ErrCancelledRequest, err)
		return in, nil
	}

	finished := nowFn().UTC()
	turns := []contractx.Turn{{
		Role:      contractx.RoleUser,
		Content:   in.Text,
		Timestamp: in.Now,
	}}
	if tool, ok := toolTurn(in.Outcome.Results, finished); ok {
		turns = append(turns, tool)
	}
	if reply := strings.TrimSpace(in.Outcome.Response); reply != "" {
		turns = append(turns, contractx.Turn{
			Role:      contractx.RoleAssistant,
			Content:   reply,
			Timestamp: finished,
		})
	}

	rec := statex.RequestRecord{
		ID:         in.RequestID,
		Request:    in.Text,
		Response:   in.Outcome.Response,
		Degraded:   in.Outcome.Degraded,
		Replans:    in.Outcome.Replans,
		Plans:      in.Outcome.Plans,
		Results:    in.Outcome.Results,
		StartedAt:  in.Now,
		FinishedAt: finished,
	}
	if in.Outcome.Cause != nil {
		rec.Cause = in.Outcome.Cause.Error()
	}

	committed, err := in.Runtime.Session.Commit(turns, rec, finished)
	if err != nil {
		in.Err = err
		return in, nil
	}
	in.Committed = committed
	in.Record = rec
	return in, nil
}

// toolTurn folds every non-respond step result into one tool turn.
func toolTurn(results []contractx.StepResult, at time.Time) (contractx.Turn, bool) {
	var (
		lines []string
		names = make(map[string]bool)
		name  string
	)
	for _, r := range results {
		if r.Tool == contractx.RespondTool {
			continue
		}
		if !names[r.Tool] {
			names[r.Tool] = true
			name = r.Tool
		}
		line := fmt.Sprintf("%s [%s]", r.Tool, r.Status)
		switch {
		case r.Status == contractx.StepSuccess && r.Output != "":
			line += ": " + r.Output
		case r.Error != "":
			line += ": " + r.Error
		}
		lines = append(lines, clip(line, maxToolLineRunes))
	}
	if len(lines) == 0 {
		return contractx.Turn{}, false
	}
	if len(names) > 1 {
		name = AggregatedToolName
	}
	return contractx.Turn{
		Role:      contractx.RoleTool,
		ToolName:  name,
		Content:   strings.Join(lines, "\n"),
		Timestamp: at,
	}, true
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
