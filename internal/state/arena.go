package state

import (
	"github.com/commonforge/itemregistry/internal/item"
)

// Handle is a stable, generation-checked reference into the shared blob
// arena. The zero Handle is nil. Handles stay valid across unrelated
// insertions and removals; releasing a slot bumps its generation so stale
// handles resolve to nothing instead of aliasing a recycled slot.
type Handle struct {
	index uint32
	gen   uint32
}

// IsNil reports whether the handle references nothing.
func (h Handle) IsNil() bool { return h.gen == 0 }

type arenaSlot struct {
	value item.Value
	gen   uint32
	live  bool
}

// arena is the flat store for default-payload and custom-data blobs.
// Both slots of every record share it so identical storage handling
// applies to either kind.
type arena struct {
	slots []arenaSlot
	free  []uint32
	count int
}

// insert stores an owned copy of v and returns its handle.
func (a *arena) insert(v item.Value) Handle {
	if !v.IsValid() {
		return Handle{}
	}

	a.count++

	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		slot := &a.slots[idx]
		slot.value = v.Clone()
		slot.live = true
		return Handle{index: idx, gen: slot.gen}
	}

	a.slots = append(a.slots, arenaSlot{value: v.Clone(), gen: 1, live: true})
	return Handle{index: uint32(len(a.slots) - 1), gen: 1}
}

// resolve returns the value behind h, or an empty value for nil, stale or
// released handles.
func (a *arena) resolve(h Handle) (item.Value, bool) {
	if h.IsNil() || int(h.index) >= len(a.slots) {
		return item.Value{}, false
	}
	slot := &a.slots[h.index]
	if !slot.live || slot.gen != h.gen {
		return item.Value{}, false
	}
	return slot.value, true
}

// release frees the slot behind h. Releasing never shifts other slots, so
// no other handle is disturbed.
func (a *arena) release(h Handle) {
	if h.IsNil() || int(h.index) >= len(a.slots) {
		return
	}
	slot := &a.slots[h.index]
	if !slot.live || slot.gen != h.gen {
		return
	}
	slot.value = item.Value{}
	slot.live = false
	slot.gen++
	a.count--
	a.free = append(a.free, h.index)
}

// copyInPlace overwrites the stored value's bytes when the schema matches.
func (a *arena) copyInPlace(h Handle, v item.Value) bool {
	stored, ok := a.resolve(h)
	if !ok {
		return false
	}
	return stored.CopyFrom(v)
}

// reset drops every blob.
func (a *arena) reset() {
	a.slots = a.slots[:0]
	a.free = a.free[:0]
	a.count = 0
}

// len returns the number of live blobs.
func (a *arena) len() int { return a.count }
