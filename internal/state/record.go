package state

import (
	"fmt"

	"github.com/commonforge/itemregistry/internal/item"
)

// invalidReplicationIndex is the reserved "no index" value. Valid indices
// are dense 1..N and track the record's sorted position, so they are only
// meaningful against the exact state that produced them.
const invalidReplicationIndex uint32 = 0

// RecordData is the external, value-carrying form of a record. Data sources
// hand these to the state; the state owns the stored copies.
type RecordData struct {
	Shared         item.SharedData
	AssetPath      string
	DefaultPayload item.Value
	CustomData     item.Value
}

// ID returns the record identifier.
func (d RecordData) ID() item.Identifier { return d.Shared.ID }

// Record is one registry entry. Payload blobs live in the owning State's
// arena; the record holds stable handles into it, resolved through the
// State accessors.
type Record struct {
	Shared    item.SharedData
	AssetPath string

	defaultPayload Handle
	customData     Handle

	repIndex uint32

	// checksum is lazily computed. Zero means dirty.
	checksum uint32
}

// ID returns the record identifier.
func (r *Record) ID() item.Identifier { return r.Shared.ID }

// ReplicationIndex returns the record's dense network index, position+1
// within the sorted store. Zero means the record is not indexed yet.
func (r *Record) ReplicationIndex() uint32 { return r.repIndex }

// HasDefaultPayload reports whether a default payload blob is attached.
func (r *Record) HasDefaultPayload() bool { return !r.defaultPayload.IsNil() }

// HasCustomData reports whether a custom data blob is attached.
func (r *Record) HasCustomData() bool { return !r.customData.IsNil() }

func (r *Record) invalidateChecksum() { r.checksum = 0 }

func (r *Record) String() string {
	return fmt.Sprintf("{%s rep=%d}", r.Shared.ID, r.repIndex)
}
