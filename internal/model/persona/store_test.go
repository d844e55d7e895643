package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCharacter(t *testing.T) {
	c, err := ParseCharacter("  LAURA ")
	require.NoError(t, err)
	assert.Equal(t, Laura, c)

	c, err = ParseCharacter("elfa")
	require.NoError(t, err)
	assert.Equal(t, Nerith, c)

	c, err = ParseCharacter("")
	require.NoError(t, err)
	assert.Equal(t, DefaultCharacter, c)

	_, err = ParseCharacter("gandalf")
	assert.ErrorIs(t, err, ErrUnknownCharacter)
}

func TestRegistryLookupFallsBackToDefault(t *testing.T) {
	reg := NewRegistry(Seed())

	assert.Equal(t, Laura, reg.Lookup("laura").Character)
	assert.Equal(t, DefaultCharacter, reg.Lookup("unknown").Character)
	assert.Equal(t, DefaultCharacter, reg.Lookup("").Character)
}

func TestPersonaHistoryIsCopied(t *testing.T) {
	reg := NewRegistry(Seed())
	p := reg.Lookup("mary")

	history := p.History()
	require.NotEmpty(t, history)
	history[0].Content = "mutated"

	assert.NotEqual(t, "mutated", reg.Lookup("mary").History()[0].Content)
}

func TestOnlyMaryUsesLegacyKey(t *testing.T) {
	assert.True(t, Mary.UsesLegacyKey())
	assert.False(t, Laura.UsesLegacyKey())
	assert.False(t, Nerith.UsesLegacyKey())
}
