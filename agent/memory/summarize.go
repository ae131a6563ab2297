package memory

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
)

const (
	summaryLineRunes  = 160
	summaryTotalRunes = 2000
)

// Summarizer collapses turns into one lower-fidelity turn. Implementations must
// be deterministic and must not block.
type Summarizer interface {
	Summarize(turns []contractx.Turn) contractx.Turn
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(turns []contractx.Turn) contractx.Turn

func (f SummarizerFunc) Summarize(turns []contractx.Turn) contractx.Turn {
	return f(turns)
}

// ExtractiveSummarizer keeps the leading part of every merged turn.
type ExtractiveSummarizer struct{}

func (ExtractiveSummarizer) Summarize(turns []contractx.Turn) contractx.Turn {
	var (
		b          strings.Builder
		covers     int
		importance float64
		out        contractx.Turn
	)
	for _, t := range turns {
		covers += coverage(t)
	}
	fmt.Fprintf(&b, "Summary of %d earlier turns:", covers)

	for _, t := range turns {
		if t.Importance > importance {
			importance = t.Importance
		}
		if t.Timestamp.After(out.Timestamp) {
			out.Timestamp = t.Timestamp
		}

		b.WriteString("\n- ")
		if t.Summary {
			fmt.Fprintf(&b, "[summary x%d] %s", coverage(t), clip(strings.Join(strings.Fields(summaryBody(t.Content)), " "), summaryLineRunes))
			continue
		}
		label := string(t.Role)
		if t.ToolName != "" {
			label += "/" + t.ToolName
		}
		fmt.Fprintf(&b, "[%s] %s", label, clip(strings.Join(strings.Fields(t.Content), " "), summaryLineRunes))
	}

	out.Role = contractx.RoleAssistant
	out.Content = clip(b.String(), summaryTotalRunes)
	out.Importance = importance
	out.Summary = true
	out.Covers = covers
	return out
}

func coverage(t contractx.Turn) int {
	if t.Summary && t.Covers > 0 {
		return t.Covers
	}
	return 1
}

// summaryBody drops the header line of a summary turn.
func summaryBody(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
