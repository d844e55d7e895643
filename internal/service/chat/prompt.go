package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/welnecker/roleplay/backend/internal/model/canon"
	"github.com/welnecker/roleplay/backend/internal/model/chat"
	"github.com/welnecker/roleplay/backend/internal/model/persona"
)

// turn is the assembled prompt of one cycle. Retries reuse messages and
// append their directive after the system block.
type turn struct {
	messages []*schema.Message
	system   int
}

func newPromptTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{persona}"),
		schema.SystemMessage("{style}"),
		schema.SystemMessage("{nsfw}"),
		schema.MessagesPlaceholder("examples", true),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{annotation}\n\n{query}"),
	)
}

// systemMessages is the count of leading system messages in the template.
const systemMessages = 3

func (s *Service) assemble(ctx context.Context, id chat.Identity, p persona.Persona, facts canon.Facts, location string, nsfw bool, message string) (*turn, error) {
	history, err := s.history.Build(ctx, id, p.History())
	if err != nil {
		return nil, err
	}
	milestone, err := s.lastMilestone(ctx, id)
	if err != nil {
		return nil, err
	}

	messages, err := s.template.Format(ctx, map[string]any{
		"persona":    p.Prompt,
		"style":      s.rules.StyleDirective(s.cfg.ParagraphSentences),
		"nsfw":       s.rules.NSFWDirective(nsfw),
		"examples":   p.Examples(),
		"history":    history,
		"annotation": annotation(p, facts, location, milestone),
		"query":      message,
	})
	if err != nil {
		return nil, fmt.Errorf("format prompt: %w", err)
	}
	return &turn{messages: messages, system: systemMessages}, nil
}

// with returns the prompt plus a corrective system directive.
func (t *turn) with(directive string) []*schema.Message {
	out := make([]*schema.Message, 0, len(t.messages)+1)
	out = append(out, t.messages[:t.system]...)
	out = append(out, schema.SystemMessage(directive))
	return append(out, t.messages[t.system:]...)
}

func (s *Service) lastMilestone(ctx context.Context, id chat.Identity) (*canon.Event, error) {
	events, err := s.repo.ListEvents(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	// newest first
	for _, ev := range events {
		switch ev.Type {
		case canon.EventFidelityStop, canon.EventFidelitySoftStop:
			continue
		}
		return &ev, nil
	}
	return nil, nil
}

const milestoneLayout = "2006-01-02 15:04"

// annotation renders the per-turn context block that precedes the user text.
func annotation(p persona.Persona, facts canon.Facts, location string, milestone *canon.Event) string {
	var b strings.Builder
	if location == "" {
		location = "indefinido"
	}
	fmt.Fprintf(&b, "LOCAL_ATUAL: %s\n", location)
	b.WriteString("MEMÓRIA CANÔNICA:")

	partner := facts.String(canon.FactPartner)
	if partner == "" {
		partner = p.Partner
	}
	if partner != "" {
		fmt.Fprintf(&b, "\n- parceiro: %s", partner)
	}
	if facts.Has(canon.FactVirgin) {
		if facts.Bool(canon.FactVirgin, true) {
			b.WriteString("\n- virgem: sim")
		} else {
			b.WriteString("\n- virgem: não")
		}
	}
	if first := facts.String(canon.FactFirstMeeting); first != "" {
		fmt.Fprintf(&b, "\n- primeiro encontro: %s", first)
	}
	if name := facts.String(canon.FactUserName); name != "" {
		fmt.Fprintf(&b, "\n- nome do usuário: %s", name)
	}
	if milestone != nil {
		fmt.Fprintf(&b, "\n- último marco: %s", milestone.Description)
		if milestone.Location != "" {
			fmt.Fprintf(&b, " (%s)", milestone.Location)
		}
		if !milestone.Timestamp.IsZero() {
			fmt.Fprintf(&b, " em %s", milestone.Timestamp.UTC().Format(milestoneLayout))
		}
	}
	return b.String()
}
