// Package propagate migrates default-derived values on live item holders
// forward when the authoritative defaults change, without destroying
// per-holder customization. Holders register themselves; the walker only
// visits what registered, never an arbitrary object graph.
package propagate

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/commonforge/itemregistry/internal/item"
	"github.com/commonforge/itemregistry/internal/log"
	"github.com/commonforge/itemregistry/internal/state"
)

// ErrInFlight rejects a propagation started while another one is running.
// Propagation is single flight; overlapping passes would observe each
// other's partial writes.
var ErrInFlight = errors.New("propagate: propagation already in progress")

// Holder owns live items that may reference registry records. Implementers
// return the items they want kept in sync; the propagator mutates them in
// place during a pass.
type Holder interface {
	GatherItems() []*item.Item
}

// HolderFunc adapts a gather function to the Holder interface.
type HolderFunc func() []*item.Item

// GatherItems implements Holder.
func (f HolderFunc) GatherItems() []*item.Item { return f() }

// Context carries one refresh cycle's propagation input. Created per
// cycle, consumed by a single Propagate call, then discarded.
type Context struct {
	// CycleID correlates log lines and events of one pass.
	CycleID uuid.UUID

	// Original holds the pre-refresh versions of the touched records.
	// Added records have no entry here.
	Original *state.State

	// TouchedIDs lists every changed, added or removed identifier of the
	// refresh. Ignored when WasReset is set.
	TouchedIDs []item.Identifier

	// InitialFixup marks the first pass after startup. Every gathered
	// item is visited regardless of the touched set, so holders restored
	// from an older save synchronize against defaults they may never
	// have seen.
	InitialFixup bool

	// WasReset marks a full state replacement: every item is considered
	// touched.
	WasReset bool

	// Visited guards against items reachable through multiple holders.
	Visited map[*item.Item]bool

	// Current is the item being processed, for diagnostics.
	Current *item.Item
}

// NewContext builds a propagation context for one refresh cycle.
func NewContext(original *state.State, touched []item.Identifier) *Context {
	return &Context{
		CycleID:    uuid.New(),
		Original:   original,
		TouchedIDs: touched,
		Visited:    make(map[*item.Item]bool),
	}
}

// Propagator walks registered holders and applies defaults migration.
// Registration is safe from any goroutine; Propagate itself must run on
// the registry's mutating goroutine.
// holderEntry gives each registration a comparable identity; Holder
// values themselves may hold func types, which cannot be compared.
type holderEntry struct {
	h Holder
}

type Propagator struct {
	mu             sync.Mutex
	holders        []*holderEntry
	gatherOverride func() []*item.Item
	preHooks       []func(*Context)
	postHooks      []func(*Context)

	// flushLoads runs before the walk so no holder is observed mid-load.
	flushLoads func()

	inFlight atomic.Bool
}

// NewPropagator returns an empty propagator.
func NewPropagator() *Propagator {
	return &Propagator{}
}

// RegisterHolder adds a holder to the walk set. Returns an unregister
// function.
func (p *Propagator) RegisterHolder(h Holder) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry := &holderEntry{h: h}
	p.holders = append(p.holders, entry)

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, held := range p.holders {
			if held == entry {
				p.holders = append(p.holders[:i], p.holders[i+1:]...)
				return
			}
		}
	}
}

// SetGatherOverride replaces the holder walk with a custom gather
// strategy. Pass nil to restore the default.
func (p *Propagator) SetGatherOverride(gather func() []*item.Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gatherOverride = gather
}

// SetFlushLoads installs the hook that synchronously drains pending
// asynchronous loads before a pass starts.
func (p *Propagator) SetFlushLoads(flush func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushLoads = flush
}

// OnPrePropagate registers a callback invoked before each pass.
func (p *Propagator) OnPrePropagate(fn func(*Context)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.preHooks = append(p.preHooks, fn)
}

// OnPostPropagate registers a callback invoked after each pass.
func (p *Propagator) OnPostPropagate(fn func(*Context)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.postHooks = append(p.postHooks, fn)
}

// IsPropagating reports whether a pass is currently running.
func (p *Propagator) IsPropagating() bool { return p.inFlight.Load() }

// Propagate runs one defaults migration pass against the live state.
// Re-entrant calls are rejected with ErrInFlight. Individual bad items are
// skipped, never aborting the batch.
func (p *Propagator) Propagate(ctx *Context, live *state.State) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		log.Warn(log.CatPropagate, "propagation rejected, already in flight",
			"cycle", ctx.CycleID)
		return ErrInFlight
	}
	defer p.inFlight.Store(false)

	p.mu.Lock()
	holders := append([]*holderEntry(nil), p.holders...)
	gather := p.gatherOverride
	flush := p.flushLoads
	pre := append([]func(*Context){}, p.preHooks...)
	post := append([]func(*Context){}, p.postHooks...)
	p.mu.Unlock()

	if flush != nil {
		flush()
	}
	for _, fn := range pre {
		fn(ctx)
	}

	touched := make(map[item.Identifier]bool, len(ctx.TouchedIDs))
	for _, id := range ctx.TouchedIDs {
		touched[id] = true
	}

	var items []*item.Item
	if gather != nil {
		items = gather()
	} else {
		for _, h := range holders {
			items = append(items, h.h.GatherItems()...)
		}
	}

	migrated := 0
	for _, it := range items {
		if it == nil || ctx.Visited[it] {
			continue
		}
		ctx.Visited[it] = true

		if !ctx.WasReset && !ctx.InitialFixup && !touched[it.ID()] {
			continue
		}
		if p.propagateOne(ctx, live, it) {
			migrated++
		}
	}

	for _, fn := range post {
		fn(ctx)
	}

	log.Info(log.CatPropagate, "propagation pass complete",
		"cycle", ctx.CycleID, "items", len(items), "migrated", migrated)
	return nil
}

// propagateOne applies the migration rules to a single item. Panics are
// contained so one bad holder never aborts the batch.
func (p *Propagator) propagateOne(ctx *Context, live *state.State, it *item.Item) (changed bool) {
	ctx.Current = it
	defer func() {
		ctx.Current = nil
		if r := recover(); r != nil {
			log.Error(log.CatPropagate, "item skipped during propagation",
				"cycle", ctx.CycleID, "item", it.ID(), "panic", r)
			changed = false
		}
	}()

	rec := live.RecordPtr(it.ID())
	if rec == nil {
		// The record is gone from the live registry; the reference cannot
		// be satisfied anymore.
		it.Reset()
		return true
	}

	newDefault := live.DefaultPayload(rec)
	var oldDefault item.Value
	if ctx.Original != nil {
		if old := ctx.Original.RecordPtr(it.ID()); old != nil {
			oldDefault = ctx.Original.DefaultPayload(old)
		}
	}

	merged := MergeDefaults(it.Payload(), oldDefault, newDefault)
	if merged.Equal(it.Payload()) {
		return false
	}
	it.SetPayload(merged)
	return true
}

// MergeDefaults computes the post-migration payload for a holder whose
// record default changed from oldDefault to newDefault. Fields the holder
// left at the old default move to the new default; customized fields
// survive. A stored payload whose schema no longer matches the new default
// is replaced wholesale.
func MergeDefaults(stored, oldDefault, newDefault item.Value) item.Value {
	if !newDefault.IsValid() {
		return item.Value{}
	}
	if !stored.IsValid() || stored.Schema() != newDefault.Schema() {
		return newDefault.Clone()
	}

	merged := stored.Clone()
	if !oldDefault.IsValid() || oldDefault.Schema() != newDefault.Schema() {
		// No comparable old default: every stored field counts as a
		// customization and stays.
		return merged
	}

	for _, f := range newDefault.Schema().Fields() {
		if merged.FieldEqual(oldDefault, f) {
			merged.CopyField(newDefault, f)
		}
	}
	return merged
}
