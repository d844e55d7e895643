package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/welnecker/roleplay/backend/internal/model/canon"
	"github.com/welnecker/roleplay/backend/internal/model/chat"
	"github.com/welnecker/roleplay/backend/internal/model/persona"
)

func openTestStore(t *testing.T) *GormStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := Open(Config{Driver: "sqlite", DSN: fmt.Sprintf("file:%s?mode=memory&cache=shared", name)}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewGormStore(db)
}

func identity(t *testing.T, user string, c persona.Character) chat.Identity {
	t.Helper()
	id, err := chat.NewIdentity(user, c)
	require.NoError(t, err)
	return id
}

func TestSetFactLastWriteWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := identity(t, "ana", persona.Mary)

	require.NoError(t, s.SetFact(ctx, id, canon.FactLocation, "motel", canon.NewMeta("test")))
	require.NoError(t, s.SetFact(ctx, id, canon.FactLocation, "praia de camburi", canon.NewMeta("test")))

	got, err := s.GetFact(ctx, id, canon.FactLocation, "")
	require.NoError(t, err)
	assert.Equal(t, "praia de camburi", got)

	facts, err := s.ListFacts(ctx, id)
	require.NoError(t, err)
	assert.Len(t, facts, 1)
	assert.Equal(t, "test", facts[0].Meta.Source)
}

func TestFactValuesKeepTheirType(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := identity(t, "ana", persona.Laura)

	values := map[string]any{
		"int":    6,
		"float":  1.5,
		"bool":   true,
		"text":   "6",
		"list":   []string{"a", "b"},
		"object": map[string]any{"n": 2},
	}
	for key, value := range values {
		require.NoError(t, s.SetFact(ctx, id, key, value, canon.NewMeta("test")))
	}

	facts, err := s.GetFacts(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, float64(6), facts["int"])
	assert.Equal(t, 1.5, facts["float"])
	assert.Equal(t, true, facts["bool"])
	assert.Equal(t, "6", facts["text"])
	assert.Equal(t, []any{"a", "b"}, facts["list"])
	assert.Equal(t, map[string]any{"n": float64(2)}, facts["object"])

	listed, err := s.ListFacts(ctx, id)
	require.NoError(t, err)
	assert.Len(t, listed, len(values))
}

func TestSetFactNumericOverwrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := identity(t, "ana", persona.Mary)

	require.NoError(t, s.SetFact(ctx, id, "k", 1, canon.NewMeta("test")))
	require.NoError(t, s.SetFact(ctx, id, "k", 2, canon.NewMeta("test")))

	got, err := s.GetFact(ctx, id, "k", nil)
	require.NoError(t, err)
	assert.Equal(t, float64(2), got)
}

func TestReadsAreCaseInsensitiveOnIdentity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetFact(ctx, identity(t, "Ana", persona.Laura), "filho_idade", 6, canon.Meta{}))

	facts, err := s.GetFacts(ctx, identity(t, "ANA", persona.Laura))
	require.NoError(t, err)
	assert.Equal(t, float64(6), facts["filho_idade"])

	other, err := s.GetFacts(ctx, identity(t, "ana", persona.Nerith))
	require.NoError(t, err)
	assert.NotNil(t, other)
	assert.Empty(t, other)
}

func TestGetFactDefault(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetFact(context.Background(), identity(t, "nobody", persona.Mary), "missing", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)
}

func TestDeleteFact(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := identity(t, "ana", persona.Mary)

	require.NoError(t, s.SetFact(ctx, id, "a", "1", canon.Meta{}))
	removed, err := s.DeleteFact(ctx, id, "a")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.DeleteFact(ctx, id, "a")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestLastEventPicksNewest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := identity(t, "ana", persona.Mary)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.RegisterEvent(ctx, id, canon.Event{Type: "x", Description: "new", Timestamp: base.Add(time.Hour)})
	require.NoError(t, err)
	_, err = s.RegisterEvent(ctx, id, canon.Event{Type: "x", Description: "old", Timestamp: base})
	require.NoError(t, err)
	_, err = s.RegisterEvent(ctx, id, canon.Event{Type: "y", Description: "other", Timestamp: base.Add(2 * time.Hour)})
	require.NoError(t, err)

	ev, err := s.LastEvent(ctx, id, "x")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "new", ev.Description)

	none, err := s.LastEvent(ctx, id, "z")
	require.NoError(t, err)
	assert.Nil(t, none)

	all, err := s.ListEvents(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "other", all[0].Description)

	removed, err := s.DeleteEvent(ctx, id, all[0].ID)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestInteractionsKeepInsertionOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := identity(t, "ana", persona.Nerith)

	for i := 1; i <= 5; i++ {
		_, err := s.SaveInteraction(ctx, id, chat.Interaction{
			UserMessage:      fmt.Sprintf("u%d", i),
			AssistantMessage: fmt.Sprintf("a%d", i),
			ModelUsed:        "fake:model",
		})
		require.NoError(t, err)
	}

	recent, err := s.ListInteractions(ctx, id, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "u3", recent[0].UserMessage)
	assert.Equal(t, "u5", recent[2].UserMessage)

	last, err := s.LastInteraction(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "a5", last.AssistantMessage)

	removed, err := s.DeleteLastInteraction(ctx, id)
	require.NoError(t, err)
	assert.True(t, removed)

	last, err = s.LastInteraction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a4", last.AssistantMessage)

	n, err := s.DeleteHistory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestSaveInteractionWithEventsIsAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := identity(t, "ana", persona.Mary)

	_, err := s.SaveInteraction(ctx, id, chat.Interaction{UserMessage: "u1", AssistantMessage: "a1"},
		canon.Event{Type: canon.EventFidelityStop, Description: "recusa", Tags: []string{"Carlos"}})
	require.NoError(t, err)
	ev, err := s.LastEvent(ctx, id, canon.EventFidelityStop)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, []string{"Carlos"}, ev.Tags)

	// a failing event rolls the turn back
	_, err = s.SaveInteraction(ctx, id, chat.Interaction{UserMessage: "u2", AssistantMessage: "a2"},
		canon.Event{ID: ev.ID, Type: canon.EventFidelityStop})
	require.ErrorIs(t, err, ErrUnavailable)

	turns, err := s.ListInteractions(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "u1", turns[0].UserMessage)
	events, err := s.ListEvents(ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestDeleteAllUserDataCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := identity(t, "ana", persona.Mary)
	keep := identity(t, "bia", persona.Mary)

	require.NoError(t, s.SetFact(ctx, id, "a", 1, canon.Meta{}))
	require.NoError(t, s.SetFact(ctx, id, "b", 2, canon.Meta{}))
	require.NoError(t, s.SetFact(ctx, keep, "a", 1, canon.Meta{}))
	_, err := s.RegisterEvent(ctx, id, canon.Event{Type: "x"})
	require.NoError(t, err)
	_, err = s.SaveInteraction(ctx, id, chat.Interaction{UserMessage: "u", AssistantMessage: "a"})
	require.NoError(t, err)

	counts, err := s.DeleteAllUserData(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, canon.DeletionCounts{Interactions: 1, Facts: 2, Events: 1}, counts)

	facts, err := s.GetFacts(ctx, keep)
	require.NoError(t, err)
	assert.Len(t, facts, 1)
}

func TestResetNSFW(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := identity(t, "ana", persona.Laura)

	reset, err := s.ResetNSFW(ctx, id)
	require.NoError(t, err)
	assert.False(t, reset)
	facts, err := s.GetFacts(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, facts)

	require.NoError(t, s.EnableNSFW(ctx, id))
	require.NoError(t, s.EnableNSFW(ctx, id))
	require.NoError(t, s.SetFact(ctx, id, canon.FactSceneLock, true, canon.Meta{}))
	require.NoError(t, s.SetFact(ctx, id, canon.FactSceneLockTTL, 120, canon.Meta{}))
	require.NoError(t, s.SetFact(ctx, id, canon.FactNSFWOverride, "on", canon.Meta{}))

	events, err := s.ListEvents(ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	reset, err = s.ResetNSFW(ctx, id)
	require.NoError(t, err)
	assert.True(t, reset)

	facts, err = s.GetFacts(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, true, facts[canon.FactVirgin])
	assert.False(t, facts.Has(canon.FactSceneLock))
	assert.False(t, facts.Has(canon.FactSceneLockTTL))
	assert.Equal(t, "on", facts[canon.FactNSFWOverride])

	ev, err := s.LastEvent(ctx, id, canon.EventFirstTime)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"}, nil)
	assert.True(t, errors.Is(err, ErrUnsupportedDriver))
}
