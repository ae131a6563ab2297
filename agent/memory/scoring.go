package memory

import (
	"math"
	"strings"
	"time"
	"unicode"

	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
)

// Weights combine the normalised score components. Each component is in [0,1].
type Weights struct {
	Recency    float64
	Lexical    float64
	Importance float64
}

var DefaultWeights = Weights{
	Recency:    0.35,
	Lexical:    0.5,
	Importance: 0.15,
}

const defaultHalfLife = 30 * time.Minute

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"do": {}, "for": {}, "from": {}, "how": {}, "i": {}, "in": {}, "is": {}, "it": {},
	"me": {}, "my": {}, "of": {}, "on": {}, "or": {}, "the": {}, "this": {}, "to": {},
	"was": {}, "what": {}, "with": {}, "you": {},
}

type scorer struct {
	weights  Weights
	halfLife time.Duration
}

// recency decays by half every halfLife, measured back from ref.
func (s scorer) recency(ts, ref time.Time) float64 {
	age := ref.Sub(ts)
	if age <= 0 {
		return 1
	}
	hl := s.halfLife
	if hl <= 0 {
		hl = defaultHalfLife
	}
	return math.Exp2(-age.Seconds() / hl.Seconds())
}

func (s scorer) score(t contractx.Turn, query tokenSet, ref time.Time) float64 {
	return s.weights.Recency*s.recency(t.Timestamp, ref) +
		s.weights.Lexical*jaccard(query, tokenize(t.Content)) +
		s.weights.Importance*clamp01(t.Importance)
}

type tokenSet map[string]struct{}

func tokenize(text string) tokenSet {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(tokenSet, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}

func jaccard(a, b tokenSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func defaultImportance(role contractx.Role) float64 {
	switch role {
	case contractx.RoleUser:
		return 0.6
	case contractx.RoleAssistant:
		return 0.5
	case contractx.RoleTool:
		return 0.4
	default:
		return 0.3
	}
}

// newer reports whether a sorts before b when scores tie.
func newer(a, b contractx.Turn) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.Seq > b.Seq
}
