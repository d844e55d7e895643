package persona

import "strings"

// Store exposes persona retrieval for handlers and the pipeline.
type Store interface {
	List() []Persona
	Find(c Character) (Persona, bool)
	Lookup(name string) Persona
}

// Registry implements Store with an immutable in-memory slice.
type Registry struct {
	items []Persona
}

// NewRegistry returns a Registry preloaded with the supplied personas.
func NewRegistry(items []Persona) *Registry {
	return &Registry{items: append([]Persona(nil), items...)}
}

// List returns the predefined persona list.
func (r *Registry) List() []Persona {
	return append([]Persona(nil), r.items...)
}

// Find looks up a persona by character.
func (r *Registry) Find(c Character) (Persona, bool) {
	for _, item := range r.items {
		if item.Character == c {
			return item, true
		}
	}
	return Persona{}, false
}

// Lookup matches name case-insensitively. Unknown or empty names resolve to
// DefaultCharacter.
func (r *Registry) Lookup(name string) Persona {
	c, err := ParseCharacter(strings.TrimSpace(name))
	if err != nil {
		c = DefaultCharacter
	}
	if p, ok := r.Find(c); ok {
		return p
	}
	p, _ := r.Find(DefaultCharacter)
	return p
}
