package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/pkoukk/tiktoken-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/welnecker/roleplay/backend/internal/model/chat"
	"github.com/welnecker/roleplay/backend/internal/model/persona"
)

type memorySource struct {
	items []chat.Interaction
	err   error
}

func (m memorySource) ListInteractions(context.Context, chat.Identity, int) ([]chat.Interaction, error) {
	return m.items, m.err
}

func turns(n, wordsEach int) []chat.Interaction {
	words := strings.TrimSpace(strings.Repeat("w ", wordsEach))
	out := make([]chat.Interaction, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, chat.Interaction{
			ID:               fmt.Sprintf("I%d", i),
			UserMessage:      words,
			AssistantMessage: words,
		})
	}
	return out
}

func TestWindowKeepsNewestWithinBudget(t *testing.T) {
	// ten turns of 100 tokens each against a 700 token budget
	window := Window(turns(10, 50), 700, CountWords)

	require.Len(t, window, 7)
	assert.Equal(t, "I4", window[0].ID)
	assert.Equal(t, "I10", window[6].ID)
}

func TestBuildFallsBackToSeed(t *testing.T) {
	id, err := chat.NewIdentity("ana", persona.Mary)
	require.NoError(t, err)
	seed := []*schema.Message{schema.AssistantMessage("seed", nil)}

	got, err := NewAssembler(memorySource{}, 100).Build(context.Background(), id, seed)
	require.NoError(t, err)
	assert.Equal(t, seed, got)

	// a single turn larger than the budget does not fit either
	got, err = NewAssembler(memorySource{items: turns(1, 80)}, 100).Build(context.Background(), id, seed)
	require.NoError(t, err)
	assert.Equal(t, seed, got)
}

func TestBuildRendersChronologicalMessages(t *testing.T) {
	id, err := chat.NewIdentity("ana", persona.Mary)
	require.NoError(t, err)
	items := []chat.Interaction{
		{UserMessage: "oi", AssistantMessage: "olá"},
		{UserMessage: "tudo bem?", AssistantMessage: "tudo."},
	}

	got, err := NewAssembler(memorySource{items: items}, 100).Build(context.Background(), id, nil)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, schema.User, got[0].Role)
	assert.Equal(t, "oi", got[0].Content)
	assert.Equal(t, schema.Assistant, got[3].Role)
	assert.Equal(t, "tudo.", got[3].Content)
}

func TestBuildPropagatesStoreErrors(t *testing.T) {
	id, err := chat.NewIdentity("ana", persona.Mary)
	require.NoError(t, err)

	_, err = NewAssembler(memorySource{err: errors.New("down")}, 100).Build(context.Background(), id, nil)
	assert.Error(t, err)
}

func TestCountWords(t *testing.T) {
	assert.Equal(t, 0, CountWords("   "))
	assert.Equal(t, 3, CountWords("um  dois\ttrês"))
}

func TestEstimateTokensUsesEncoding(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 2, EstimateTokens("hello world"))
	// one long word is several BPE tokens
	assert.Greater(t, EstimateTokens("indescritivelmente"), CountWords("indescritivelmente"))
}

func TestNewEstimatorFallsBackToWords(t *testing.T) {
	estimate := NewEstimator(func() (*tiktoken.Tiktoken, error) {
		return nil, errors.New("no ranks")
	})

	assert.Equal(t, 1, estimate("indescritivelmente"))
	assert.Equal(t, 3, estimate("um  dois\ttrês"))
}

func TestWindowWithEncoderBudget(t *testing.T) {
	estimate := NewEstimator(LoadEncoding)
	items := []chat.Interaction{
		{ID: "I1", UserMessage: "indescritivelmente", AssistantMessage: "indescritivelmente"},
		{ID: "I2", UserMessage: "oi", AssistantMessage: "oi"},
	}

	// two words fit a budget of four words but not the encoder's count of both turns
	window := Window(items, 4, estimate)
	require.Len(t, window, 1)
	assert.Equal(t, "I2", window[0].ID)
	assert.Len(t, Window(items, 4, CountWords), 2)
}
