package memory

import (
	"fmt"
	"time"

	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
)

// Snapshot is the lossless export of a Manager. Working turns are listed in
// their current score order.
type Snapshot struct {
	Limits    Limits           `json:"limits" toml:"limits" msgpack:"limits"`
	Seq       uint64           `json:"seq" toml:"seq" msgpack:"seq"`
	ShortTerm []contractx.Turn `json:"short_term" toml:"short_term" msgpack:"short_term"`
	Working   []contractx.Turn `json:"working" toml:"working" msgpack:"working"`
	LongTerm  []contractx.Turn `json:"long_term" toml:"long_term" msgpack:"long_term"`
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		Limits:    m.limits,
		Seq:       m.seq,
		ShortTerm: m.tierTurns(ShortTerm),
		Working:   m.tierTurns(Working),
		LongTerm:  m.tierTurns(LongTerm),
	}
}

// Restore replaces every tier with the snapshot content.
func (m *Manager) Restore(s Snapshot) error {
	if err := s.Limits.Validate(); err != nil {
		return err
	}

	var (
		maxSeq uint64
		newest time.Time
	)
	all := make([]contractx.Turn, 0, len(s.ShortTerm)+len(s.Working)+len(s.LongTerm))
	all = append(all, s.ShortTerm...)
	all = append(all, s.Working...)
	all = append(all, s.LongTerm...)
	for _, t := range all {
		if !t.Role.Valid() {
			return fmt.Errorf("%w: snapshot turn seq=%d has invalid role=%q", contractx.ErrValidation, t.Seq, t.Role)
		}
		if t.Seq > maxSeq {
			maxSeq = t.Seq
		}
		if t.Timestamp.After(newest) {
			newest = t.Timestamp
		}
	}
	seq := s.Seq
	if seq < maxSeq {
		seq = maxSeq
	}

	working := make([]scored, len(s.Working))
	for i, t := range s.Working {
		working[i] = scored{turn: t}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.limits = s.Limits
	m.seq = seq
	m.newest = newest
	m.shortTerm = append([]contractx.Turn(nil), s.ShortTerm...)
	m.working = working
	m.longTerm = append([]contractx.Turn(nil), s.LongTerm...)
	m.rebalance()
	return nil
}

type TierStats struct {
	Tier      Tier      `json:"tier"`
	Count     int       `json:"count"`
	Capacity  int       `json:"capacity"`
	Summaries int       `json:"summaries"`
	Oldest    time.Time `json:"oldest,omitempty"`
	Newest    time.Time `json:"newest,omitempty"`
}

type Stats struct {
	Total int         `json:"total"`
	Tiers []TierStats `json:"tiers"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out Stats
	for _, tier := range AllTiers {
		ts := TierStats{Tier: tier, Capacity: m.limits.capacity(tier)}
		for _, t := range m.tierTurns(tier) {
			ts.Count++
			if t.Summary {
				ts.Summaries++
			}
			if ts.Oldest.IsZero() || t.Timestamp.Before(ts.Oldest) {
				ts.Oldest = t.Timestamp
			}
			if t.Timestamp.After(ts.Newest) {
				ts.Newest = t.Timestamp
			}
		}
		out.Total += ts.Count
		out.Tiers = append(out.Tiers, ts)
	}
	return out
}
