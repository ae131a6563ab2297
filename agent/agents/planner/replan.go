package planner

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
)

// dropRepeatedFailures removes steps that repeat a failed (tool, input) pair
// verbatim, together with their transitive dependents, then renumbers the
// remaining steps from 1.
func dropRepeatedFailures(steps []contractx.Step, prior []contractx.StepResult) []contractx.Step {
	failed := make(map[string]bool)
	for _, r := range prior {
		if r.Status == contractx.StepFailure {
			failed[actionKey(r.Tool, r.Input)] = true
		}
	}

	dropped := make(map[int]bool)
	for _, st := range steps {
		if failed[actionKey(st.Tool, st.Input)] {
			dropped[st.ID] = true
			continue
		}
		for _, dep := range st.DependsOn {
			if dropped[dep] {
				dropped[st.ID] = true
				break
			}
		}
	}
	if len(dropped) == 0 {
		return steps
	}
	log.Debug().Int("dropped", len(dropped)).Msg("planner: dropped steps repeating failed actions")

	renumber := make(map[int]int, len(steps))
	out := make([]contractx.Step, 0, len(steps)-len(dropped))
	for _, st := range steps {
		if dropped[st.ID] {
			continue
		}
		renumber[st.ID] = len(out) + 1
		st.ID = len(out) + 1
		if len(st.DependsOn) > 0 {
			deps := make([]int, len(st.DependsOn))
			for i, d := range st.DependsOn {
				deps[i] = renumber[d]
			}
			st.DependsOn = deps
		}
		out = append(out, st)
	}
	return out
}

// actionKey identifies a tool call. encoding/json sorts map keys, so equal
// inputs give equal keys.
func actionKey(tool string, input map[string]any) string {
	if len(input) == 0 {
		return tool + "|{}"
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return tool + "|?"
	}
	return tool + "|" + string(raw)
}
