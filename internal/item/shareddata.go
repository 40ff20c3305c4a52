package item

import (
	"slices"
	"strconv"
	"strings"
)

// SharedData is the hot data shared between all instances of an item,
// identified by its Identifier. Designed to stay lightweight; anything
// heavier belongs in the default payload.
type SharedData struct {
	// ID the data was registered under.
	ID Identifier

	// Tags is a list of customizable gameplay tags.
	Tags []string

	// MaxStackSize is the maximum amount of grouped items of the same type.
	MaxStackSize int32
}

// Equal reports full field equality, including tag order.
func (d SharedData) Equal(other SharedData) bool {
	return d.ID == other.ID &&
		d.MaxStackSize == other.MaxStackSize &&
		slices.Equal(d.Tags, other.Tags)
}

// Export returns a canonical textual form used for checksum input.
func (d SharedData) Export() string {
	var b strings.Builder
	b.WriteString(d.ID.String())
	b.WriteByte('|')
	b.WriteString(strings.Join(d.Tags, ","))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(int64(d.MaxStackSize), 10))
	return b.String()
}
