// Package state implements the sorted, group-indexed record store at the
// heart of the registry: bulk mutation, archetype grouping, dense
// replication indices and a lazy hierarchical checksum cache.
package state

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math/bits"
	"slices"
	"strings"

	"github.com/commonforge/itemregistry/internal/item"
	"github.com/commonforge/itemregistry/internal/log"
)

// group is one contiguous [begin, begin+count) run of records sharing an
// archetype, with its own memoized checksum.
type group struct {
	archetype item.Archetype
	begin     int
	count     int

	// checksum is lazily computed. Zero means dirty.
	checksum uint32
}

// State owns the sorted record array, the shared blob arena and the lookup
// maps derived from them. All mutation runs through Reset, AppendData and
// RemoveData; every structural mutation ends in fixupDependencies so the
// derived indices never go stale. State itself is not goroutine safe; the
// facade serializes access.
type State struct {
	records []Record
	blobs   arena
	groups  []group
	byID    map[item.Identifier]int
	byRep   map[uint32]int

	// checksum is lazily computed. Zero means dirty.
	checksum uint32
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		byID:  make(map[item.Identifier]int),
		byRep: make(map[uint32]int),
	}
}

// Len returns the number of records.
func (s *State) Len() int { return len(s.records) }

// Reset replaces the entire store with the given records, sorted by id.
// Duplicate ids are a contract violation and panic.
func (s *State) Reset(records []RecordData) {
	s.records = s.records[:0]
	s.blobs.reset()
	s.groups = s.groups[:0]
	s.checksum = 0

	sorted := slices.Clone(records)
	slices.SortFunc(sorted, func(a, b RecordData) int {
		return a.ID().Compare(b.ID())
	})

	for _, d := range sorted {
		s.records = append(s.records, s.makeRecord(d))
	}

	s.fixupDependencies(false)
	log.Debug(log.CatState, "state reset", "records", len(s.records))
}

// AppendData inserts or updates a single record. Reports true when a new
// record was inserted, false when an existing one was updated in place.
func (s *State) AppendData(d RecordData) bool {
	if idx, ok := s.byID[d.ID()]; ok {
		rec := &s.records[idx]
		rec.Shared = cloneShared(d.Shared)
		rec.AssetPath = d.AssetPath
		s.updateBlob(&rec.defaultPayload, d.DefaultPayload)
		s.updateBlob(&rec.customData, d.CustomData)
		rec.invalidateChecksum()
		s.invalidateGroup(d.ID().Archetype)
		s.checksum = 0
		return false
	}

	pos, _ := slices.BinarySearchFunc(s.records, d.ID(), func(r Record, id item.Identifier) int {
		return r.ID().Compare(id)
	})
	s.records = slices.Insert(s.records, pos, s.makeRecord(d))

	// Insertion shifts every subsequent position, so the index maps need a
	// full rebuild; unrelated groups keep their cached checksums.
	s.fixupDependencies(true)
	s.invalidateGroup(d.ID().Archetype)
	return true
}

// RemoveData removes the record with the given id, freeing its blobs.
// Reports false when the id is absent.
func (s *State) RemoveData(id item.Identifier) bool {
	idx, ok := s.byID[id]
	if !ok {
		return false
	}

	rec := &s.records[idx]
	s.blobs.release(rec.defaultPayload)
	s.blobs.release(rec.customData)
	s.records = slices.Delete(s.records, idx, idx+1)

	s.fixupDependencies(true)
	s.invalidateGroup(id.Archetype)
	return true
}

// ContainsRecord reports whether a record with the given id exists.
func (s *State) ContainsRecord(id item.Identifier) bool {
	_, ok := s.byID[id]
	return ok
}

// ContainsArchetype reports whether any record of the archetype exists.
func (s *State) ContainsArchetype(archetype item.Archetype) bool {
	for i := range s.groups {
		if s.groups[i].archetype == archetype {
			return true
		}
	}
	return false
}

// Record returns the record with the given id and panics when it is
// absent. Use RecordPtr when absence is an expected outcome.
func (s *State) Record(id item.Identifier) Record {
	rec := s.RecordPtr(id)
	if rec == nil {
		panic(fmt.Sprintf("state: no record for %s", id))
	}
	return *rec
}

// RecordPtr returns a pointer to the stored record, or nil when absent.
// The pointer is invalidated by the next structural mutation.
func (s *State) RecordPtr(id item.Identifier) *Record {
	if idx, ok := s.byID[id]; ok {
		return &s.records[idx]
	}
	return nil
}

// RecordFromReplicationIndex resolves a dense network index back to its
// record, or nil when the index maps to nothing.
func (s *State) RecordFromReplicationIndex(repIndex uint32) *Record {
	if repIndex == invalidReplicationIndex {
		return nil
	}
	if idx, ok := s.byRep[repIndex]; ok {
		return &s.records[idx]
	}
	return nil
}

// Records returns the record slice, optionally filtered to one archetype.
// The filtered form is a contiguous sub-slice of the sorted store. Callers
// must not mutate or retain it across mutations.
func (s *State) Records(archetype item.Archetype) []Record {
	if !archetype.IsValid() {
		return s.records
	}
	for i := range s.groups {
		g := &s.groups[i]
		if g.archetype == archetype {
			return s.records[g.begin : g.begin+g.count]
		}
	}
	return nil
}

// RecordIDs returns every record id in sorted order.
func (s *State) RecordIDs() []item.Identifier {
	ids := make([]item.Identifier, len(s.records))
	for i := range s.records {
		ids[i] = s.records[i].ID()
	}
	return ids
}

// Archetypes returns the distinct archetypes in sorted order.
func (s *State) Archetypes() []item.Archetype {
	archetypes := make([]item.Archetype, len(s.groups))
	for i := range s.groups {
		archetypes[i] = s.groups[i].archetype
	}
	return archetypes
}

// DefaultPayload resolves the record's default payload blob. Empty value
// when the record carries none.
func (s *State) DefaultPayload(r *Record) item.Value {
	v, _ := s.blobs.resolve(r.defaultPayload)
	return v
}

// CustomData resolves the record's custom data blob. Empty value when the
// record carries none.
func (s *State) CustomData(r *Record) item.Value {
	v, _ := s.blobs.resolve(r.customData)
	return v
}

// RecordData extracts the value-carrying form of a stored record, with
// detached payload copies. Reports false when the id is absent.
func (s *State) RecordData(id item.Identifier) (RecordData, bool) {
	rec := s.RecordPtr(id)
	if rec == nil {
		return RecordData{}, false
	}
	return RecordData{
		Shared:         cloneShared(rec.Shared),
		AssetPath:      rec.AssetPath,
		DefaultPayload: s.DefaultPayload(rec).Clone(),
		CustomData:     s.CustomData(rec).Clone(),
	}, true
}

// EncodingBits returns the number of bits needed to encode any valid
// replication index of the current state.
func (s *State) EncodingBits() int {
	return max(bits.Len(uint(len(s.records))), 1)
}

// Checksum returns the hierarchical state checksum, recomputing only the
// dirty parts. The combine order is the sorted array order, so two states
// with identical records always agree.
func (s *State) Checksum() uint32 {
	if s.checksum != 0 {
		return s.checksum
	}

	buf := make([]byte, 0, len(s.groups)*4)
	for i := range s.groups {
		buf = binary.LittleEndian.AppendUint32(buf, s.groupChecksum(&s.groups[i]))
	}
	s.checksum = nonZeroChecksum(crc32.ChecksumIEEE(buf))
	return s.checksum
}

// RecordChecksum returns the record's checksum, computing it on first use.
func (s *State) RecordChecksum(r *Record) uint32 {
	if r.checksum != 0 {
		return r.checksum
	}

	var b strings.Builder
	b.WriteString(r.Shared.Export())
	b.WriteByte('\n')
	b.WriteString(s.DefaultPayload(r).Export())
	b.WriteByte('\n')
	b.WriteString(s.CustomData(r).Export())
	b.WriteByte('\n')
	b.WriteString(r.AssetPath)

	r.checksum = nonZeroChecksum(crc32.ChecksumIEEE([]byte(b.String())))
	return r.checksum
}

// HasIdenticalData compares one record of this state against a record of
// another state. When both checksums are already valid the comparison is a
// single integer compare, otherwise it falls back to full field equality.
func (s *State) HasIdenticalData(r *Record, other *State, o *Record) bool {
	if r.checksum != 0 && o.checksum != 0 {
		return r.checksum == o.checksum
	}
	return r.Shared.Equal(o.Shared) &&
		r.AssetPath == o.AssetPath &&
		s.DefaultPayload(r).Equal(other.DefaultPayload(o)) &&
		s.CustomData(r).Equal(other.CustomData(o))
}

// DiffRecords removes from this state every record that is identical to
// its counterpart in base, leaving exactly the changed and added records.
// Diffing a state against itself empties it.
func (s *State) DiffRecords(base *State) {
	kept := s.records[:0]
	removed := 0
	for i := range s.records {
		rec := &s.records[i]
		counterpart := base.RecordPtr(rec.ID())
		if counterpart != nil && s.HasIdenticalData(rec, base, counterpart) {
			s.blobs.release(rec.defaultPayload)
			s.blobs.release(rec.customData)
			removed++
			continue
		}
		kept = append(kept, *rec)
	}
	s.records = kept
	s.fixupDependencies(false)

	if removed > 0 {
		log.Debug(log.CatState, "diffed records", "removed", removed, "kept", len(s.records))
	}
}

// Dump returns a multi-line description of the store for diagnostics.
func (s *State) Dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "records=%d groups=%d checksum=%#x\n", len(s.records), len(s.groups), s.Checksum())
	for gi := range s.groups {
		g := &s.groups[gi]
		fmt.Fprintf(&b, "[%s] count=%d checksum=%#x\n", g.archetype, g.count, s.groupChecksum(g))
		for i := g.begin; i < g.begin+g.count; i++ {
			rec := &s.records[i]
			fmt.Fprintf(&b, "  %s rep=%d checksum=%#x default=%s custom=%s path=%q\n",
				rec.ID(), rec.repIndex, s.RecordChecksum(rec),
				s.DefaultPayload(rec), s.CustomData(rec), rec.AssetPath)
		}
	}
	return b.String()
}

// makeRecord stores the payload blobs and builds the internal record form.
// Replication index and checksum are left for fixupDependencies.
func (s *State) makeRecord(d RecordData) Record {
	return Record{
		Shared:         cloneShared(d.Shared),
		AssetPath:      d.AssetPath,
		defaultPayload: s.blobs.insert(d.DefaultPayload),
		customData:     s.blobs.insert(d.CustomData),
	}
}

// updateBlob reconciles one stored blob slot with an incoming value:
// same-schema values are copied in place, everything else releases the old
// slot and stores the incoming value fresh.
func (s *State) updateBlob(h *Handle, incoming item.Value) {
	if !incoming.IsValid() {
		s.blobs.release(*h)
		*h = Handle{}
		return
	}
	if stored, ok := s.blobs.resolve(*h); ok && stored.Schema() == incoming.Schema() {
		s.blobs.copyInPlace(*h, incoming)
		return
	}
	s.blobs.release(*h)
	*h = s.blobs.insert(incoming)
}

// fixupDependencies rebuilds everything derived from the record array: the
// id map, the replication index map (position+1) and the archetype group
// boundaries, in one linear pass. It asserts sortedness and treats a
// duplicate id as a fatal contract violation. With migrateGroupChecksums
// set, groups carry their cached checksum over from the previous layout by
// archetype match; this keeps unrelated groups warm across a pure insert
// or remove.
func (s *State) fixupDependencies(migrateGroupChecksums bool) {
	var previous []group
	if migrateGroupChecksums {
		previous = slices.Clone(s.groups)
	}

	clear(s.byID)
	clear(s.byRep)
	s.groups = s.groups[:0]
	s.checksum = 0

	for i := range s.records {
		rec := &s.records[i]
		id := rec.ID()

		if i > 0 {
			switch prev := s.records[i-1].ID(); prev.Compare(id) {
			case 0:
				panic(fmt.Sprintf("state: duplicate record id %s", id))
			case 1:
				panic(fmt.Sprintf("state: records out of order at %s", id))
			}
		}

		rec.repIndex = uint32(i) + 1
		s.byID[id] = i
		s.byRep[rec.repIndex] = i

		if n := len(s.groups); n > 0 && s.groups[n-1].archetype == id.Archetype {
			s.groups[n-1].count++
		} else {
			s.groups = append(s.groups, group{archetype: id.Archetype, begin: i, count: 1})
		}
	}

	if migrateGroupChecksums {
		for i := range s.groups {
			g := &s.groups[i]
			for j := range previous {
				if previous[j].archetype == g.archetype {
					g.checksum = previous[j].checksum
					break
				}
			}
		}
	}
}

// invalidateGroup marks one archetype group's checksum dirty.
func (s *State) invalidateGroup(archetype item.Archetype) {
	for i := range s.groups {
		if s.groups[i].archetype == archetype {
			s.groups[i].checksum = 0
			return
		}
	}
}

// groupChecksum returns the group's checksum, recomputing from member
// record checksums when dirty.
func (s *State) groupChecksum(g *group) uint32 {
	if g.checksum != 0 {
		return g.checksum
	}

	buf := make([]byte, 0, g.count*4)
	for i := g.begin; i < g.begin+g.count; i++ {
		buf = binary.LittleEndian.AppendUint32(buf, s.RecordChecksum(&s.records[i]))
	}
	g.checksum = nonZeroChecksum(crc32.ChecksumIEEE(buf))
	return g.checksum
}

// cachedGroupChecksum exposes the memoized group checksum without forcing
// a recompute. Zero means dirty. Test instrumentation.
func (s *State) cachedGroupChecksum(archetype item.Archetype) uint32 {
	for i := range s.groups {
		if s.groups[i].archetype == archetype {
			return s.groups[i].checksum
		}
	}
	return 0
}

// nonZeroChecksum keeps computed checksums out of the dirty sentinel.
func nonZeroChecksum(c uint32) uint32 {
	if c == 0 {
		return 1
	}
	return c
}

func cloneShared(d item.SharedData) item.SharedData {
	d.Tags = slices.Clone(d.Tags)
	return d
}
