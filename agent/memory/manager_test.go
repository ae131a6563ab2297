package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, limits Limits, opts ...Option) *Manager {
	t.Helper()
	m, err := New(limits, opts...)
	require.NoError(t, err)
	return m
}

func turnAt(role contractx.Role, content string, minute int) contractx.Turn {
	return contractx.Turn{
		Role:      role,
		Content:   content,
		Timestamp: baseTime.Add(time.Duration(minute) * time.Minute),
	}
}

func commitN(t *testing.T, m *Manager, n int) []contractx.Turn {
	t.Helper()
	out := make([]contractx.Turn, 0, n)
	for i := 0; i < n; i++ {
		stored, err := m.Commit(turnAt(contractx.RoleUser, fmt.Sprintf("message number %d about topic%d", i, i), i))
		require.NoError(t, err)
		out = append(out, stored)
	}
	return out
}

func TestCommitPromotesOverflowIntoWorking(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Limits{ShortTerm: 3, Working: 5, LongTerm: 10})
	committed := commitN(t, m, 4)

	short := m.Turns(ShortTerm)
	require.Len(t, short, 3)
	assert.Equal(t, committed[1:], short)

	working := m.Turns(Working)
	require.Len(t, working, 1)
	assert.Equal(t, committed[0].Seq, working[0].Seq)
	assert.Empty(t, m.Turns(LongTerm))
}

func TestCommitNeverExceedsCapacity(t *testing.T) {
	t.Parallel()

	limits := Limits{ShortTerm: 2, Working: 3, LongTerm: 2}
	m := newTestManager(t, limits)

	roles := []contractx.Role{contractx.RoleUser, contractx.RoleAssistant, contractx.RoleTool}
	for i := 0; i < 60; i++ {
		role := roles[i%len(roles)]
		turn := turnAt(role, fmt.Sprintf("entry %d alpha%d beta%d", i, i%4, i%7), i)
		if role == contractx.RoleTool {
			turn.ToolName = "web.search"
		}
		_, err := m.Commit(turn)
		require.NoError(t, err)

		assert.LessOrEqual(t, m.Len(ShortTerm), limits.ShortTerm)
		assert.LessOrEqual(t, m.Len(Working), limits.Working)
		assert.LessOrEqual(t, m.Len(LongTerm), limits.LongTerm)
	}

	short := m.Turns(ShortTerm)
	require.NotEmpty(t, short)
	assert.Contains(t, short[len(short)-1].Content, "entry 59")
}

func TestWorkingOverflowSummarisesIntoLongTerm(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Limits{ShortTerm: 1, Working: 2, LongTerm: 5})
	commitN(t, m, 4)

	assert.Equal(t, 1, m.Len(ShortTerm))
	assert.Equal(t, 2, m.Len(Working))

	long := m.Turns(LongTerm)
	require.Len(t, long, 1)
	assert.True(t, long[0].Summary)
	assert.Equal(t, 1, long[0].Covers)
	assert.Contains(t, long[0].Content, "Summary of 1 earlier turns")
}

func TestWorkingEvictsLowestScored(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Limits{ShortTerm: 1, Working: 2, LongTerm: 5})

	_, err := m.Commit(turnAt(contractx.RoleUser, "kubernetes cluster upgrade plan", 0))
	require.NoError(t, err)
	_, err = m.Commit(turnAt(contractx.RoleUser, "favourite pasta recipe", 1))
	require.NoError(t, err)
	_, err = m.Commit(turnAt(contractx.RoleUser, "kubernetes cluster node pools", 2))
	require.NoError(t, err)
	// Short-term now focuses on kubernetes; the pasta turn is the least relevant.
	_, err = m.Commit(turnAt(contractx.RoleUser, "kubernetes cluster autoscaling", 3))
	require.NoError(t, err)

	working := m.Turns(Working)
	require.Len(t, working, 2)
	for _, w := range working {
		assert.NotContains(t, w.Content, "pasta")
	}

	long := m.Turns(LongTerm)
	require.Len(t, long, 1)
	assert.Contains(t, long[0].Content, "pasta")
}

func TestLongTermCompactsOldestPair(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Limits{ShortTerm: 1, Working: 1, LongTerm: 2})
	commitN(t, m, 6)

	long := m.Turns(LongTerm)
	require.Len(t, long, 2)
	assert.True(t, long[0].Summary)
	assert.Equal(t, 3, long[0].Covers)
	assert.Equal(t, 1, long[1].Covers)
	assert.Contains(t, long[0].Content, "[summary x")
}

func TestCommitRejectsInvalidTurnWithoutMutation(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, DefaultLimits)
	commitN(t, m, 2)
	before := m.Snapshot()

	_, err := m.Commit(contractx.Turn{Role: "system", Content: "x"})
	require.ErrorIs(t, err, contractx.ErrValidation)
	_, err = m.Commit(contractx.Turn{Role: contractx.RoleUser, Content: "   "})
	require.ErrorIs(t, err, contractx.ErrValidation)
	_, err = m.Commit(contractx.Turn{Role: contractx.RoleTool, Content: "result"})
	require.ErrorIs(t, err, contractx.ErrValidation)

	assert.Equal(t, before, m.Snapshot())
}

func TestConfigureShrinkEvictsImmediately(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Limits{ShortTerm: 5, Working: 5, LongTerm: 5})
	committed := commitN(t, m, 5)

	require.NoError(t, m.Configure(Limits{ShortTerm: 2, Working: 1, LongTerm: 1}))

	short := m.Turns(ShortTerm)
	require.Len(t, short, 2)
	assert.Equal(t, committed[3:], short)
	assert.Equal(t, 1, m.Len(Working))
	assert.Equal(t, 1, m.Len(LongTerm))
}

func TestConfigureRejectsInvalidLimits(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, DefaultLimits)
	require.ErrorIs(t, m.Configure(Limits{ShortTerm: 0, Working: 1, LongTerm: 1}), contractx.ErrValidation)
	assert.Equal(t, DefaultLimits, m.Limits())

	_, err := New(Limits{ShortTerm: 1, Working: -1, LongTerm: 1})
	require.ErrorIs(t, err, contractx.ErrValidation)
}

func TestRetrieveRanksByRelevance(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, DefaultLimits)
	_, err := m.Commit(turnAt(contractx.RoleUser, "compare golang generics with rust traits", 0))
	require.NoError(t, err)
	_, err = m.Commit(turnAt(contractx.RoleAssistant, "weather in lisbon is sunny", 1))
	require.NoError(t, err)
	_, err = m.Commit(turnAt(contractx.RoleUser, "what about golang interfaces", 2))
	require.NoError(t, err)

	got, err := m.Retrieve(Query{Text: "golang generics", MaxItems: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Contains(t, got[0].Content, "generics")
	assert.Contains(t, got[1].Content, "interfaces")
}

func TestRetrieveTiesPreferNewer(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, DefaultLimits, WithWeights(Weights{Lexical: 1}))
	first, err := m.Commit(turnAt(contractx.RoleUser, "same words", 0))
	require.NoError(t, err)
	second, err := m.Commit(turnAt(contractx.RoleUser, "same words", 5))
	require.NoError(t, err)

	got, err := m.Retrieve(Query{Text: "same words"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.Seq, got[0].Seq)
	assert.Equal(t, first.Seq, got[1].Seq)
}

func TestRetrieveIsIdempotent(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Limits{ShortTerm: 2, Working: 3, LongTerm: 3})
	commitN(t, m, 9)

	q := Query{Text: "message about topic3", MaxItems: 4}
	first, err := m.Retrieve(q)
	require.NoError(t, err)
	second, err := m.Retrieve(q)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRetrieveFiltersTiers(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Limits{ShortTerm: 2, Working: 5, LongTerm: 5})
	committed := commitN(t, m, 3)

	got, err := m.Retrieve(Query{Text: "message", Tiers: []Tier{Working}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, committed[0].Seq, got[0].Seq)
}

func TestRetrieveEmptyIsSoftSignal(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, DefaultLimits)
	got, err := m.Retrieve(Query{Text: "anything", MaxItems: 3})
	require.ErrorIs(t, err, contractx.ErrEmptyContext)
	assert.Empty(t, got)
}

func TestCommitDefaultsTimestampAndImportance(t *testing.T) {
	t.Parallel()

	now := baseTime.Add(time.Hour)
	m := newTestManager(t, DefaultLimits, WithClock(func() time.Time { return now }))
	stored, err := m.Commit(contractx.Turn{Role: contractx.RoleTool, ToolName: "math.evaluate", Content: "42"})
	require.NoError(t, err)

	assert.Equal(t, now, stored.Timestamp)
	assert.InDelta(t, 0.4, stored.Importance, 1e-9)
	assert.Equal(t, uint64(1), stored.Seq)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Limits{ShortTerm: 2, Working: 2, LongTerm: 3})
	commitN(t, m, 8)
	snap := m.Snapshot()

	restored := newTestManager(t, DefaultLimits)
	require.NoError(t, restored.Restore(snap))
	assert.Equal(t, snap, restored.Snapshot())

	next, err := restored.Commit(turnAt(contractx.RoleUser, "after restore", 30))
	require.NoError(t, err)
	assert.Greater(t, next.Seq, snap.Seq)
}

func TestStatsReportsTiers(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Limits{ShortTerm: 1, Working: 1, LongTerm: 4})
	commitN(t, m, 4)

	stats := m.Stats()
	assert.Equal(t, 4, stats.Total)
	require.Len(t, stats.Tiers, 3)
	assert.Equal(t, ShortTerm, stats.Tiers[0].Tier)
	assert.Equal(t, 1, stats.Tiers[0].Count)
	assert.Equal(t, 2, stats.Tiers[2].Count)
	assert.Equal(t, 2, stats.Tiers[2].Summaries)
	assert.Equal(t, 4, stats.Tiers[2].Capacity)
}
