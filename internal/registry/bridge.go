package registry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/commonforge/itemregistry/internal/datasource"
	"github.com/commonforge/itemregistry/internal/item"
	"github.com/commonforge/itemregistry/internal/log"
	"github.com/commonforge/itemregistry/internal/propagate"
	"github.com/commonforge/itemregistry/internal/pubsub"
	"github.com/commonforge/itemregistry/internal/state"
)

// sourceBridge is the registry-side implementation of the data source
// contract. The source calls it only on the registry's owning goroutine.
type sourceBridge struct {
	registry *Registry
}

var _ datasource.Bridge = (*sourceBridge)(nil)

func (b *sourceBridge) WasLoaded() bool { return b.registry.WasLoaded() }
func (b *sourceBridge) IsCooking() bool { return b.registry.cooking.Load() }

// AppendRecords inserts or updates records, skipping identical ones so
// no-op pushes never fire propagation or checksum churn.
func (b *sourceBridge) AppendRecords(records []state.RecordData) int {
	r := b.registry
	r.assertMutable()

	_, span := r.tracer.Start(context.Background(), "registry.append_records",
		trace.WithAttributes(attribute.Int("records", len(records))))
	defer span.End()

	originals := state.NewState()
	var touched []item.Identifier
	added := 0

	r.mu.Lock()
	for _, rd := range records {
		if prev, exists := r.state.RecordData(rd.ID()); exists {
			if identical(prev, rd) {
				continue
			}
			originals.AppendData(prev)
			r.state.AppendData(rd)
			touched = append(touched, rd.ID())
			continue
		}
		if r.state.AppendData(rd) {
			added++
			touched = append(touched, rd.ID())
		}
	}
	checksum := r.refreshChecksumLocked()
	r.mu.Unlock()

	if len(touched) > 0 {
		r.finishRefresh(originals, touched, false, checksum)
	}
	return added
}

// RemoveRecords removes records by id, returning how many existed.
func (b *sourceBridge) RemoveRecords(ids []item.Identifier) int {
	r := b.registry
	r.assertMutable()

	_, span := r.tracer.Start(context.Background(), "registry.remove_records",
		trace.WithAttributes(attribute.Int("records", len(ids))))
	defer span.End()

	originals := state.NewState()
	var touched []item.Identifier

	r.mu.Lock()
	for _, id := range ids {
		prev, exists := r.state.RecordData(id)
		if !exists {
			continue
		}
		originals.AppendData(prev)
		r.state.RemoveData(id)
		touched = append(touched, id)
	}
	checksum := r.refreshChecksumLocked()
	r.mu.Unlock()

	if len(touched) > 0 {
		r.finishRefresh(originals, touched, false, checksum)
	}
	return len(touched)
}

// ResetRecords replaces the whole record set. The touched set is the
// symmetric difference against the previous state, so a rescan yielding
// identical data is a no-op for listeners and holders.
func (b *sourceBridge) ResetRecords(records []state.RecordData) {
	r := b.registry
	r.assertMutable()

	_, span := r.tracer.Start(context.Background(), "registry.reset_records",
		trace.WithAttributes(attribute.Int("records", len(records))))
	defer span.End()

	fresh := state.NewState()
	fresh.Reset(records)

	r.mu.Lock()
	previous := r.state

	// Changed or added records relative to the previous state.
	changed := state.NewState()
	changed.Reset(records)
	changed.DiffRecords(previous)

	touched := changed.RecordIDs()
	originals := state.NewState()
	for _, id := range touched {
		if prev, ok := previous.RecordData(id); ok {
			originals.AppendData(prev)
		}
	}
	// Removed records are touched too; their old versions ride along for
	// holders that need clearing.
	for _, id := range previous.RecordIDs() {
		if !fresh.ContainsRecord(id) {
			touched = append(touched, id)
			if prev, ok := previous.RecordData(id); ok {
				originals.AppendData(prev)
			}
		}
	}

	r.state = fresh
	checksum := r.refreshChecksumLocked()
	r.mu.Unlock()

	if len(touched) > 0 || previous.Len() == 0 {
		r.finishRefresh(originals, touched, true, checksum)
	}
}

// refreshChecksumLocked recomputes the full hierarchical checksum inside
// the mutation critical section. Readers under the shared lock therefore
// never observe fixed-up indices with stale checksums, and later lookups
// hit only memoized values.
func (r *Registry) refreshChecksumLocked() uint32 {
	checksum := r.state.Checksum()
	r.networkChecksum.Store(checksum)
	return checksum
}

// finishRefresh runs the post-mutation side effects: defaults
// propagation, cache flush and listener notification. Runs on the owning
// goroutine, outside the state lock, so holders and subscribers can query
// the registry freely.
func (r *Registry) finishRefresh(originals *state.State, touched []item.Identifier, wasReset bool, checksum uint32) {
	pctx := propagate.NewContext(originals, touched)
	pctx.WasReset = wasReset
	pctx.InitialFixup = !r.initialFixupDone
	r.initialFixupDone = true

	_, span := r.tracer.Start(context.Background(), "registry.propagate",
		trace.WithAttributes(
			attribute.Int("touched", len(touched)),
			attribute.Bool("reset", wasReset)))
	r.mu.RLock()
	live := r.state
	r.mu.RUnlock()
	if err := r.propagator.Propagate(pctx, live); err != nil {
		log.ErrorErr(log.CatRegistry, "defaults propagation skipped", err, "cycle", pctx.CycleID)
	}
	span.End()

	r.nameCache.Flush()

	r.events.Publish(pubsub.RefreshedEvent, RefreshPayload{
		CycleID:  pctx.CycleID,
		Touched:  touched,
		Checksum: checksum,
		WasReset: wasReset,
	})

	log.Info(log.CatRegistry, "refresh adopted",
		"cycle", pctx.CycleID, "touched", len(touched), "reset", wasReset, "checksum", checksum)
}

// assertMutable panics when a mutation arrives while cook output is being
// produced. That is a programmer error in the data source, not a
// recoverable condition.
func (r *Registry) assertMutable() {
	if r.cooking.Load() {
		panic("registry: mutation while cooking")
	}
}

// identical compares two value-carrying records field by field.
func identical(a, b state.RecordData) bool {
	return a.Shared.Equal(b.Shared) &&
		a.AssetPath == b.AssetPath &&
		a.DefaultPayload.Equal(b.DefaultPayload) &&
		a.CustomData.Equal(b.CustomData)
}
