package persona

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Character is the closed set of known personas, parsed once at the boundary.
type Character string

const (
	Mary   Character = "Mary"
	Laura  Character = "Laura"
	Nerith Character = "Nerith"
)

// DefaultCharacter is used when no character is supplied at all.
const DefaultCharacter = Mary

// ErrUnknownCharacter is returned by ParseCharacter for names outside the enum.
var ErrUnknownCharacter = errors.New("unknown character")

var characterAliases = map[string]Character{
	"mary":   Mary,
	"laura":  Laura,
	"nerith": Nerith,
	"elfa":   Nerith,
}

// ParseCharacter resolves a user supplied name. Empty input yields
// DefaultCharacter; anything else must be a known name or alias.
func ParseCharacter(name string) (Character, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return DefaultCharacter, nil
	}
	if c, ok := characterAliases[normalized]; ok {
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCharacter, name)
}

// UsesLegacyKey reports whether the character is keyed by the bare user name.
// Mary predates multi-character support and keeps the old storage key.
func (c Character) UsesLegacyKey() bool {
	return c == Mary
}

// SeedFact is a canonical fact planted once per identity.
type SeedFact struct {
	Key   string
	Value any
}

// SeedEvent is a canonical milestone registered once per identity. The
// companion fact, if any, is written together with the event.
type SeedEvent struct {
	Type        string
	Description string
	Location    string
	Fact        *SeedFact
}

// Persona captures the immutable role-playing content for one character.
type Persona struct {
	Character   Character         `json:"id"`
	Name        string            `json:"name"`
	Title       string            `json:"title"`
	OpeningLine string            `json:"openingLine"`
	Partner     string            `json:"partner,omitempty"`
	Fidelity    bool              `json:"fidelity"`
	Aliases     []string          `json:"-"`
	Prompt      string            `json:"-"`
	SeedHistory []*schema.Message `json:"-"`
	FewShot     []*schema.Message `json:"-"`
	SeedFacts   []SeedFact        `json:"-"`
	SeedEvents  []SeedEvent       `json:"-"`
}

// SelfNames returns the names a third-person slip would start with.
func (p Persona) SelfNames() []string {
	names := make([]string, 0, len(p.Aliases)+1)
	names = append(names, p.Name)
	return append(names, p.Aliases...)
}

// History returns a copy of the seed history so callers can't mutate it.
func (p Persona) History() []*schema.Message {
	return cloneMessages(p.SeedHistory)
}

// Examples returns a copy of the few-shot turns.
func (p Persona) Examples() []*schema.Message {
	return cloneMessages(p.FewShot)
}

func cloneMessages(in []*schema.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(in))
	for _, m := range in {
		if m == nil {
			continue
		}
		copied := *m
		out = append(out, &copied)
	}
	return out
}
