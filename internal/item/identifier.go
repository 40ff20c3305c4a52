package item

import (
	"errors"
	"strings"
)

// Identifier errors
var (
	ErrInvalidIdentifier = errors.New("invalid identifier format")
)

// Archetype is the "type" half of an item identifier. It groups records of
// the same kind (e.g. "Weapon", "Consumable").
type Archetype string

// Name is the "name" half of an item identifier, unique within an archetype.
type Name string

// IsValid reports whether the archetype token is non-empty.
func (a Archetype) IsValid() bool { return a != "" }

// IsValid reports whether the name token is non-empty.
func (n Name) IsValid() bool { return n != "" }

// Identifier is the stable two-part key of a registry record.
// Equality and ordering are lexicographic, archetype first.
type Identifier struct {
	Archetype Archetype
	Name      Name
}

// MakeIdentifier builds an Identifier from raw tokens.
func MakeIdentifier(archetype, name string) Identifier {
	return Identifier{Archetype: Archetype(archetype), Name: Name(name)}
}

// ParseIdentifier parses a colon-separated identifier.
// Format: {archetype}:{name}, e.g. "Weapon:Sword".
func ParseIdentifier(s string) (Identifier, error) {
	archetype, name, ok := strings.Cut(s, ":")
	if !ok || archetype == "" || name == "" {
		return Identifier{}, ErrInvalidIdentifier
	}
	return MakeIdentifier(archetype, name), nil
}

// IsValid reports whether both components are non-empty.
func (id Identifier) IsValid() bool {
	return id.Archetype.IsValid() && id.Name.IsValid()
}

// Less orders identifiers lexicographically, archetype first.
func (id Identifier) Less(other Identifier) bool {
	if id.Archetype != other.Archetype {
		return id.Archetype < other.Archetype
	}
	return id.Name < other.Name
}

// Compare returns -1, 0 or 1 following the Less ordering.
func (id Identifier) Compare(other Identifier) int {
	if id.Archetype != other.Archetype {
		if id.Archetype < other.Archetype {
			return -1
		}
		return 1
	}
	if id.Name != other.Name {
		if id.Name < other.Name {
			return -1
		}
		return 1
	}
	return 0
}

func (id Identifier) String() string {
	return string(id.Archetype) + ":" + string(id.Name)
}
