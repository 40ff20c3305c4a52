package registry

import (
	"errors"
	"fmt"

	"github.com/commonforge/itemregistry/internal/item"
	"github.com/commonforge/itemregistry/internal/propagate"
)

// Item validation errors.
var (
	ErrItemInvalidID       = errors.New("item has no valid identifier")
	ErrItemUnknownRecord   = errors.New("item references no known record")
	ErrItemStaleID         = errors.New("item identifier has a pending redirect")
	ErrItemPayloadSchema   = errors.New("item payload schema does not match the record default")
	ErrItemSpuriousPayload = errors.New("item carries a payload but the record has none")
)

// ResetItem restores an item to its record's defaults: the identifier is
// redirected to its current form and the payload becomes a fresh copy of
// the record default. Items referencing no known record are cleared.
func (r *Registry) ResetItem(it *item.Item) {
	id := it.ID()
	r.redirects.TryRedirect(&id)

	rd, ok := r.Record(id)
	if !ok {
		it.Reset()
		return
	}

	it.SetID(id)
	it.SetPayload(rd.DefaultPayload)
}

// ValidateItem checks an item against the live registry without mutating
// it.
func (r *Registry) ValidateItem(it *item.Item) error {
	id := it.ID()
	if !id.IsValid() {
		return ErrItemInvalidID
	}
	if r.redirects.IsStale(id) {
		return fmt.Errorf("%w: %s", ErrItemStaleID, id)
	}

	rd, ok := r.Record(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrItemUnknownRecord, id)
	}

	if !it.HasPayload() {
		return nil
	}
	if !rd.DefaultPayload.IsValid() {
		return fmt.Errorf("%w: %s", ErrItemSpuriousPayload, id)
	}
	if it.Payload().Schema() != rd.DefaultPayload.Schema() {
		return fmt.Errorf("%w: %s", ErrItemPayloadSchema, id)
	}
	return nil
}

// SynchronizeItem conforms an item to the live registry: redirects the
// identifier and reconciles the payload against the record default,
// keeping customization where the schema still matches. Reports whether
// anything changed.
func (r *Registry) SynchronizeItem(it *item.Item) bool {
	id := it.ID()
	changed := r.redirects.TryRedirect(&id)
	if changed {
		payload := it.Payload()
		it.SetID(id)
		it.SetPayload(payload)
	}

	rd, ok := r.Record(id)
	if !ok {
		if it.IsValid() {
			it.Reset()
			return true
		}
		return changed
	}

	// No comparable old default here, so customization is preserved
	// wholesale and only schema mismatches conform.
	merged := propagate.MergeDefaults(it.Payload(), item.Value{}, rd.DefaultPayload)
	if !merged.Equal(it.Payload()) {
		it.SetPayload(merged)
		changed = true
	}
	return changed
}
