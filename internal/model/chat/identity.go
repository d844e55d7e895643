package chat

import (
	"errors"
	"strings"

	"github.com/welnecker/roleplay/backend/internal/model/persona"
)

// ErrEmptyUser is returned when an identity is built without a user name.
var ErrEmptyUser = errors.New("user is required")

const identitySeparator = "::"

// Identity partitions all stored state for one (user, character) pair. It is
// the only way to key into the store.
type Identity struct {
	user      string
	character persona.Character
}

// NewIdentity builds an identity from a raw user name and a resolved character.
func NewIdentity(rawUser string, character persona.Character) (Identity, error) {
	user := strings.TrimSpace(rawUser)
	if user == "" {
		return Identity{}, ErrEmptyUser
	}
	if character == "" {
		character = persona.DefaultCharacter
	}
	return Identity{user: user, character: character}, nil
}

// User returns the logical user.
func (id Identity) User() string { return id.user }

// Character returns the character half of the identity.
func (id Identity) Character() persona.Character { return id.character }

// Key is the storage partition key. Mary keeps the legacy bare-user key.
func (id Identity) Key() string {
	if id.character.UsesLegacyKey() {
		return id.user
	}
	return id.user + identitySeparator + string(id.character)
}

// NormalizedKey is the case-folded key used for lookups.
func (id Identity) NormalizedKey() string {
	return strings.ToLower(id.Key())
}

// IsZero reports whether the identity was never constructed.
func (id Identity) IsZero() bool { return id.user == "" }

func (id Identity) String() string { return id.Key() }
