package ruleset

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskops/itsm-engine/internal/errors"
)

func newTestStore(t *testing.T, historyLimit int) *Store {
	t.Helper()
	s, err := NewStore(DefaultDocument(), historyLimit)
	require.NoError(t, err)
	return s
}

func TestStore_RejectsInvalidDocument(t *testing.T) {
	t.Parallel()
	doc := DefaultDocument()
	doc.Routing[0].TargetChannelID = "nowhere"

	_, err := NewStore(doc, 0)
	require.Error(t, err)

	s := newTestStore(t, 0)
	require.Error(t, s.Replace(doc))
	rule, err := s.GetRule(context.Background(), "security-p1")
	require.NoError(t, err)
	assert.Equal(t, ChannelSecurityTeams, rule.TargetChannelID, "failed replace keeps the current document")
}

func TestStore_ListRules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, 0)

	all, err := s.ListRules(ctx, RuleFilter{})
	require.NoError(t, err)
	assert.Len(t, all, len(DefaultRules()))

	byEvent, err := s.ListRules(ctx, RuleFilter{Event: EventTicketCreated})
	require.NoError(t, err)
	ids := make([]string, 0, len(byEvent))
	for _, r := range byEvent {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"vip-requests", "catch-all"}, ids, "rules without events match every event")

	builtIn := false
	none, err := s.ListRules(ctx, RuleFilter{BuiltIn: &builtIn})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_ToggleRule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, 0)

	require.NoError(t, s.ToggleRule(ctx, "catch-all", false))

	rule, err := s.GetRule(ctx, "catch-all")
	require.NoError(t, err)
	assert.False(t, rule.Enabled)

	enabled, err := s.EnabledRules(ctx)
	require.NoError(t, err)
	for _, r := range enabled {
		assert.NotEqual(t, "catch-all", r.ID)
	}

	disabled := false
	list, err := s.ListRules(ctx, RuleFilter{Enabled: &disabled})
	require.NoError(t, err)
	require.Len(t, list, 1)

	err = s.ToggleRule(ctx, "missing", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRuleNotFound)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}

func TestStore_EnabledRulesAreExpanded(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, 0)
	rules, err := s.EnabledRules(context.Background())
	require.NoError(t, err)

	for _, r := range rules {
		if r.ID == "security-p1" {
			assert.Len(t, r.Conditions, 2, "security group conditions expanded")
			return
		}
	}
	t.Fatal("security-p1 not returned")
}

func TestStore_GetRuleReturnsCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, 0)

	rule, err := s.GetRule(ctx, "catch-all")
	require.NoError(t, err)
	rule.Enabled = false

	again, err := s.GetRule(ctx, "catch-all")
	require.NoError(t, err)
	assert.True(t, again.Enabled)
}

func TestStore_Schedule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, 0)

	sched, err := s.Schedule(ctx, ScheduleBusinessHours)
	require.NoError(t, err)
	assert.Equal(t, "UTC", sched.Timezone)

	_, err = s.Schedule(ctx, "nope")
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}

func TestStore_History(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, 5)
	base := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	for i := range 8 {
		rule := "r1"
		if i%2 == 1 {
			rule = "r2"
		}
		entry := &HistoryEntry{RuleID: rule, EventName: fmt.Sprintf("e%d", i), FiredAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, s.SaveHistory(ctx, entry))
		assert.Equal(t, uint64(i+1), entry.ID)
	}

	items, total, err := s.ListHistory(ctx, HistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 5, total, "bounded by the history limit")
	assert.Equal(t, "e7", items[0].EventName, "newest first")

	items, total, err = s.ListHistory(ctx, HistoryFilter{RuleID: "r2", Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 1)
	assert.Equal(t, "e5", items[0].EventName)

	items, _, err = s.ListHistory(ctx, HistoryFilter{Offset: 50})
	require.NoError(t, err)
	assert.Empty(t, items)

	n, err := s.DeleteHistoryBefore(ctx, base.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, total, err = s.ListHistory(ctx, HistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestStore_CanceledContext(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ListRules(ctx, RuleFilter{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.SaveHistory(ctx, &HistoryEntry{}), context.Canceled)
}

func TestStore_DocumentIsACopy(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, 0)
	doc := s.Document()
	doc.Routing[0].Enabled = false
	doc.Channels = nil

	assert.NotEmpty(t, s.Channels())
	rule, err := s.GetRule(context.Background(), doc.Routing[0].ID)
	require.NoError(t, err)
	assert.True(t, rule.Enabled)
	assert.InDelta(t, 24.0, s.Targets().Resolution["High"], 0)
}
