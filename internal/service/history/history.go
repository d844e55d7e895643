// Package history selects the most recent interactions that fit a token
// budget and renders them as chat messages.
package history

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/welnecker/roleplay/backend/internal/model/chat"
)

// DefaultBudget is the token budget used when none is configured.
const DefaultBudget = 2400

// Source lists stored interactions in insertion order.
type Source interface {
	ListInteractions(ctx context.Context, id chat.Identity, limit int) ([]chat.Interaction, error)
}

// Assembler builds the history window of a prompt.
type Assembler struct {
	source Source
	budget int
	// Estimate counts tokens, EstimateTokens by default.
	Estimate func(string) int
}

// NewAssembler returns an Assembler with a fixed budget.
func NewAssembler(source Source, budget int) *Assembler {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Assembler{source: source, budget: budget, Estimate: EstimateTokens}
}

// Build walks interactions newest first and keeps whole turns while the
// running total stays within the budget. The kept turns are returned oldest
// first. Without any stored turn, or when not even the newest fits, the
// persona seed history is used.
func (a *Assembler) Build(ctx context.Context, id chat.Identity, seed []*schema.Message) ([]*schema.Message, error) {
	interactions, err := a.source.ListInteractions(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	window := Window(interactions, a.budget, a.Estimate)
	if len(window) == 0 {
		return seed, nil
	}
	return ToMessages(window), nil
}

// Window returns the longest suffix of interactions within budget.
func Window(interactions []chat.Interaction, budget int, estimate func(string) int) []chat.Interaction {
	if estimate == nil {
		estimate = EstimateTokens
	}
	used := 0
	start := len(interactions)
	for i := len(interactions) - 1; i >= 0; i-- {
		cost := estimate(interactions[i].UserMessage) + estimate(interactions[i].AssistantMessage)
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}
	return interactions[start:]
}

// ToMessages renders each interaction as a user and an assistant message.
func ToMessages(interactions []chat.Interaction) []*schema.Message {
	out := make([]*schema.Message, 0, len(interactions)*2)
	for _, it := range interactions {
		out = append(out,
			schema.UserMessage(it.UserMessage),
			schema.AssistantMessage(it.AssistantMessage, nil),
		)
	}
	return out
}
