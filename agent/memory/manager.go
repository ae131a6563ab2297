package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
)

// Manager holds the short-term, working and long-term tiers of one session.
//
// Short-term is FIFO by count; its overflow is promoted raw into working.
// Working is kept sorted by a relevance+recency score that is recomputed
// lazily on every Commit and Retrieve; its lowest-scored overflow is merged
// into one summary turn appended to long-term. Long-term is append-only and
// compacts its two oldest entries whenever it overflows.
type Manager struct {
	mu sync.Mutex

	limits     Limits
	scorer     scorer
	summarizer Summarizer
	now        func() time.Time

	shortTerm []contractx.Turn
	working   []scored
	longTerm  []contractx.Turn

	seq uint64
	// newest is the reference point of recency decay. It only moves on commit,
	// which keeps repeated retrievals identical.
	newest time.Time
}

type scored struct {
	turn  contractx.Turn
	score float64
}

type Option func(*Manager)

func WithHalfLife(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.scorer.halfLife = d
		}
	}
}

func WithWeights(w Weights) Option {
	return func(m *Manager) {
		m.scorer.weights = w
	}
}

func WithSummarizer(s Summarizer) Option {
	return func(m *Manager) {
		if s != nil {
			m.summarizer = s
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func New(limits Limits, opts ...Option) (*Manager, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		limits: limits,
		scorer: scorer{
			weights:  DefaultWeights,
			halfLife: defaultHalfLife,
		},
		summarizer: ExtractiveSummarizer{},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// ValidateTurn reports whether Commit would accept turn.
func ValidateTurn(turn contractx.Turn) error {
	if !turn.Role.Valid() {
		return fmt.Errorf("%w: invalid turn role=%q", contractx.ErrValidation, turn.Role)
	}
	if strings.TrimSpace(turn.Content) == "" {
		return fmt.Errorf("%w: turn content is empty", contractx.ErrValidation)
	}
	if turn.Role == contractx.RoleTool && strings.TrimSpace(turn.ToolName) == "" {
		return fmt.Errorf("%w: tool turn requires tool_name", contractx.ErrValidation)
	}
	return nil
}

// Configure sets per-tier capacities. When turns already exist an eviction
// pass runs immediately so every tier fits its new capacity.
func (m *Manager) Configure(limits Limits) error {
	if err := limits.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.limits = limits
	m.rebalance()
	return nil
}

func (m *Manager) Limits() Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits
}

// Commit appends turn to short-term and cascades promotion. Validation happens
// before any tier is touched, so a rejected turn leaves memory unchanged.
func (m *Manager) Commit(turn contractx.Turn) (contractx.Turn, error) {
	if err := ValidateTurn(turn); err != nil {
		return contractx.Turn{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if turn.Timestamp.IsZero() {
		turn.Timestamp = m.now()
	}
	turn.Timestamp = turn.Timestamp.UTC()
	if turn.Importance <= 0 {
		turn.Importance = defaultImportance(turn.Role)
	}
	turn.Importance = clamp01(turn.Importance)
	turn.Seq = m.nextSeq()
	if turn.Timestamp.After(m.newest) {
		m.newest = turn.Timestamp
	}

	m.shortTerm = append(m.shortTerm, turn)
	m.rebalance()
	return turn, nil
}

// Retrieve scores every turn in the requested tiers against the query and
// returns the best MaxItems, ties going to the newer turn. ErrEmptyContext is
// a soft signal: callers proceed with an empty context.
func (m *Manager) Retrieve(q Query) ([]contractx.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rescoreWorking()

	tiers := q.Tiers
	if len(tiers) == 0 {
		tiers = AllTiers
	}
	queryTokens := tokenize(q.Text)

	var candidates []scored
	seen := make(map[Tier]bool, len(tiers))
	for _, tier := range tiers {
		if seen[tier] {
			continue
		}
		seen[tier] = true
		for _, t := range m.tierTurns(tier) {
			candidates = append(candidates, scored{
				turn:  t,
				score: m.scorer.score(t, queryTokens, m.newest),
			})
		}
	}
	if len(candidates) == 0 {
		return nil, contractx.ErrEmptyContext
	}

	sortScored(candidates)
	if q.MaxItems > 0 && len(candidates) > q.MaxItems {
		candidates = candidates[:q.MaxItems]
	}

	out := make([]contractx.Turn, len(candidates))
	for i, c := range candidates {
		out[i] = c.turn
	}
	return out, nil
}

// Turns returns a copy of one tier in its stored order.
func (m *Manager) Turns(tier Tier) []contractx.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tierTurns(tier)
}

func (m *Manager) Len(tier Tier) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch tier {
	case ShortTerm:
		return len(m.shortTerm)
	case Working:
		return len(m.working)
	case LongTerm:
		return len(m.longTerm)
	default:
		return 0
	}
}

func (m *Manager) tierTurns(tier Tier) []contractx.Turn {
	switch tier {
	case ShortTerm:
		return append([]contractx.Turn(nil), m.shortTerm...)
	case Working:
		out := make([]contractx.Turn, len(m.working))
		for i, s := range m.working {
			out[i] = s.turn
		}
		return out
	case LongTerm:
		return append([]contractx.Turn(nil), m.longTerm...)
	default:
		return nil
	}
}

func (m *Manager) nextSeq() uint64 {
	m.seq++
	return m.seq
}

// rebalance restores every capacity invariant, from short-term downward.
func (m *Manager) rebalance() {
	for len(m.shortTerm) > m.limits.ShortTerm {
		oldest := m.shortTerm[0]
		m.shortTerm = append(m.shortTerm[:0:0], m.shortTerm[1:]...)
		m.working = append(m.working, scored{turn: oldest})
	}

	m.rescoreWorking()
	if overflow := len(m.working) - m.limits.Working; overflow > 0 {
		evicted := make([]contractx.Turn, 0, overflow)
		for i := 0; i < overflow; i++ {
			last := m.working[len(m.working)-1]
			m.working = m.working[:len(m.working)-1]
			evicted = append(evicted, last.turn)
		}
		sort.SliceStable(evicted, func(i, j int) bool {
			return evicted[i].Seq < evicted[j].Seq
		})
		m.longTerm = append(m.longTerm, m.summarize(evicted))
		log.Debug().
			Int("evicted", len(evicted)).
			Int("working", len(m.working)).
			Msg("memory: working overflow summarised into long-term")
	}

	for len(m.longTerm) > m.limits.LongTerm {
		merged := m.summarize(m.longTerm[:2])
		m.longTerm = append([]contractx.Turn{merged}, m.longTerm[2:]...)
	}
}

func (m *Manager) summarize(turns []contractx.Turn) contractx.Turn {
	summary := m.summarizer.Summarize(append([]contractx.Turn(nil), turns...))
	summary.Summary = true
	if summary.Role == "" {
		summary.Role = contractx.RoleAssistant
	}
	if summary.Covers <= 0 {
		for _, t := range turns {
			summary.Covers += coverage(t)
		}
	}
	if summary.Timestamp.IsZero() {
		for _, t := range turns {
			if t.Timestamp.After(summary.Timestamp) {
				summary.Timestamp = t.Timestamp
			}
		}
	}
	summary.Seq = m.nextSeq()
	return summary
}

// rescoreWorking recomputes working scores against the current short-term
// window and keeps the tier sorted with the lowest-scored, oldest entry last.
func (m *Manager) rescoreWorking() {
	if len(m.working) == 0 {
		return
	}
	var window strings.Builder
	for _, t := range m.shortTerm {
		window.WriteString(t.Content)
		window.WriteByte(' ')
	}
	focus := tokenize(window.String())
	for i := range m.working {
		m.working[i].score = m.scorer.score(m.working[i].turn, focus, m.newest)
	}
	sortScored(m.working)
}

func sortScored(items []scored) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return newer(items[i].turn, items[j].turn)
	})
}

// Query selects what Retrieve scores. Empty Tiers means every tier and a
// non-positive MaxItems means no limit.
type Query struct {
	Text     string
	MaxItems int
	Tiers    []Tier
}
