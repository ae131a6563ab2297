package memory

import (
	"fmt"

	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
)

type Tier string

const (
	ShortTerm Tier = "short_term"
	Working   Tier = "working"
	LongTerm  Tier = "long_term"
)

// AllTiers lists tiers from the freshest to the most compressed.
var AllTiers = []Tier{ShortTerm, Working, LongTerm}

func (t Tier) Valid() bool {
	switch t {
	case ShortTerm, Working, LongTerm:
		return true
	default:
		return false
	}
}

// Limits are the per-tier capacities.
type Limits struct {
	ShortTerm int `json:"short_term" toml:"short_term" msgpack:"short_term"`
	Working   int `json:"working" toml:"working" msgpack:"working"`
	LongTerm  int `json:"long_term" toml:"long_term" msgpack:"long_term"`
}

var DefaultLimits = Limits{
	ShortTerm: 10,
	Working:   50,
	LongTerm:  100,
}

func (l Limits) Validate() error {
	if l.ShortTerm < 1 {
		return fmt.Errorf("%w: short_term capacity must be >= 1, got %d", contractx.ErrValidation, l.ShortTerm)
	}
	if l.Working < 1 {
		return fmt.Errorf("%w: working capacity must be >= 1, got %d", contractx.ErrValidation, l.Working)
	}
	if l.LongTerm < 1 {
		return fmt.Errorf("%w: long_term capacity must be >= 1, got %d", contractx.ErrValidation, l.LongTerm)
	}
	return nil
}

func (l Limits) capacity(t Tier) int {
	switch t {
	case ShortTerm:
		return l.ShortTerm
	case Working:
		return l.Working
	case LongTerm:
		return l.LongTerm
	default:
		return 0
	}
}
