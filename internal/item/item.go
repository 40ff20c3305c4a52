// Package item holds the core value types of the registry: two-part
// identifiers, the shared data block, the schema-described payload values,
// and the live Item holder that instances carry around.
package item

// Item is a lightweight dynamic instance of a registered archetype with an
// optional payload. The payload is kept synchronized with the default
// payload from the registry; fields the holder customized survive
// defaults propagation.
type Item struct {
	id      Identifier
	payload Value
}

// NewItem builds an item without payload. Callers normally follow up with
// a registry ResetItem/SynchronizeItem to adopt the current default.
func NewItem(id Identifier) *Item {
	return &Item{id: id}
}

// NewItemWithPayload builds an item carrying an owned copy of payload.
func NewItemWithPayload(id Identifier, payload Value) *Item {
	return &Item{id: id, payload: payload.Clone()}
}

// IsValid reports whether the item references an identifier.
func (it *Item) IsValid() bool { return it.id.IsValid() }

// ID returns the item's identifier.
func (it *Item) ID() Identifier { return it.id }

// SetID updates the identifier and drops the payload, which no longer
// matches the new archetype's defaults.
func (it *Item) SetID(id Identifier) {
	if it.id != id {
		it.id = id
		it.payload.Reset()
	}
}

// HasPayload reports whether the item carries a payload value.
func (it *Item) HasPayload() bool { return it.payload.IsValid() }

// Payload returns the item's payload value.
func (it *Item) Payload() Value { return it.payload }

// SetPayload replaces the payload with an owned copy of v.
func (it *Item) SetPayload(v Value) { it.payload = v.Clone() }

// Reset invalidates the item entirely.
func (it *Item) Reset() {
	it.id = Identifier{}
	it.payload.Reset()
}

// Equal reports identifier and payload equality.
func (it *Item) Equal(other *Item) bool {
	return it.id == other.id && it.payload.Equal(other.payload)
}

func (it *Item) String() string {
	if !it.HasPayload() {
		return it.id.String()
	}
	return it.id.String() + " " + it.payload.String()
}
