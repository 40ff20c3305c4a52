// Package registry is the facade over the record store: it owns the live
// state, accepts record updates from a data source, orchestrates redirect
// resolution, defaults propagation and persistence, and exposes the
// thread-safe query surface the rest of the system consumes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/commonforge/itemregistry/internal/cachemanager"
	"github.com/commonforge/itemregistry/internal/datasource"
	"github.com/commonforge/itemregistry/internal/item"
	"github.com/commonforge/itemregistry/internal/log"
	"github.com/commonforge/itemregistry/internal/propagate"
	"github.com/commonforge/itemregistry/internal/pubsub"
	"github.com/commonforge/itemregistry/internal/redirect"
	"github.com/commonforge/itemregistry/internal/state"
)

// Registry errors.
var (
	ErrNoDataSource       = errors.New("registry: no data source configured")
	ErrReplicationDesync  = errors.New("registry: replication index does not match any record")
	ErrCookingUnsupported = errors.New("registry: data source does not support cooking")
	ErrAlreadyCooking     = errors.New("registry: already in cooking mode")
)

// Options configures a Registry instance. Instances are explicitly
// constructed and passed around; there is no process-wide singleton.
type Options struct {
	// Source supplies records. Required.
	Source datasource.DataSource

	// Schemas resolves payload schema names. Required; shared with the
	// source so scanned payloads and loaded files agree.
	Schemas *item.SchemaRegistry

	// NameRedirects and ArchetypeRedirects are the raw rename lists from
	// configuration.
	NameRedirects      []redirect.Redirector[item.Name]
	ArchetypeRedirects []redirect.Redirector[item.Archetype]

	// RegistryFile is the shipped, cooked registry file. Loaded first
	// when present.
	RegistryFile string

	// DevelopmentRegistryFile is the local cache written on Close by
	// persistent sources and loaded when no shipped file exists.
	DevelopmentRegistryFile string

	// ValidateReplicationChecksums additionally checks the per-record
	// checksum a peer sent alongside a replication index.
	ValidateReplicationChecksums bool

	// Tracer receives refresh and persistence spans. Defaults to no-op.
	Tracer trace.Tracer
}

// RefreshPayload is published to subscribers after every adopted refresh.
type RefreshPayload struct {
	CycleID  uuid.UUID
	Touched  []item.Identifier
	Checksum uint32
	WasReset bool
}

// Registry owns the live state under one coarse mutex: mutations take the
// write lock, queries the read lock. Mutation entry points must be called
// from the single goroutine that owns the registry; queries are safe from
// anywhere.
type Registry struct {
	mu    sync.RWMutex
	state *state.State

	schemas    *item.SchemaRegistry
	redirects  *redirect.Graph
	propagator *propagate.Propagator
	source     datasource.DataSource
	traits     datasource.Traits
	opts       Options
	tracer     trace.Tracer

	events    *pubsub.Broker[RefreshPayload]
	nameCache *cachemanager.InMemoryCacheManager[item.Name, item.Identifier]

	// networkChecksum is the state checksum peers compare for
	// compatibility. Updated inside the mutation critical section.
	networkChecksum atomic.Uint32

	cooking          atomic.Bool
	wasLoaded        bool
	initialFixupDone bool
	initialized      bool
}

// New constructs a registry. Call Initialize before use.
func New(opts Options) (*Registry, error) {
	if opts.Source == nil {
		return nil, ErrNoDataSource
	}
	if opts.Schemas == nil {
		opts.Schemas = item.NewSchemaRegistry()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}

	return &Registry{
		state:      state.NewState(),
		schemas:    opts.Schemas,
		redirects:  redirect.NewGraph(opts.NameRedirects, opts.ArchetypeRedirects),
		propagator: propagate.NewPropagator(),
		source:     opts.Source,
		traits:     opts.Source.Traits(),
		opts:       opts,
		tracer:     tracer,
		events:     pubsub.NewBroker[RefreshPayload](),
		nameCache: cachemanager.NewInMemoryCacheManager[item.Name, item.Identifier](
			"name-lookup", cachemanager.DefaultExpiration, cachemanager.DefaultCleanupInterval),
	}, nil
}

// Initialize loads a well-known registry file if one exists, binds the
// data source and runs its initial scan. Must run on the owning
// goroutine.
func (r *Registry) Initialize(ctx context.Context) error {
	if r.initialized {
		return errors.New("registry: already initialized")
	}

	ctx, span := r.tracer.Start(ctx, "registry.initialize")
	defer span.End()

	r.loadWellKnownFiles(ctx)
	r.propagator.SetFlushLoads(r.source.FlushPendingLoads)

	bridge := &sourceBridge{registry: r}
	if err := r.source.Initialize(bridge); err != nil {
		return fmt.Errorf("initialize data source: %w", err)
	}
	if err := r.source.PostInitialize(); err != nil {
		return fmt.Errorf("post-initialize data source: %w", err)
	}

	r.initialized = true
	log.Info(log.CatRegistry, "registry initialized",
		"source", r.source.Identity(), "records", r.Len(), "loaded", r.wasLoaded)
	return nil
}

// Close writes the development cache for sources that support it,
// removes a stale one for sources that do not, tears down the data
// source and closes the event broker. Must run on the owning goroutine.
func (r *Registry) Close(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "registry.close")
	defer span.End()

	var err error
	if r.opts.DevelopmentRegistryFile != "" && !r.cooking.Load() {
		switch {
		case r.traits.Persistent && r.traits.SupportsDevelopmentCooking:
			err = r.saveLocked(ctx, r.opts.DevelopmentRegistryFile, false)
		case !r.traits.SupportsDevelopmentCooking:
			// A cache left behind by a previous configuration would be
			// adopted on the next start.
			if rmErr := os.Remove(r.opts.DevelopmentRegistryFile); rmErr == nil {
				log.Info(log.CatRegistry, "stale development cache removed",
					"file", r.opts.DevelopmentRegistryFile)
			} else if !os.IsNotExist(rmErr) {
				log.ErrorErr(log.CatRegistry, "stale development cache not removed", rmErr,
					"file", r.opts.DevelopmentRegistryFile)
			}
		}
	}

	r.source.Deinitialize()
	r.events.Close()
	r.initialized = false
	return err
}

// loadWellKnownFiles prefers the shipped cooked file and falls back to
// the development cache for persistent sources. Both loads fail closed.
func (r *Registry) loadWellKnownFiles(ctx context.Context) {
	try := func(path string, cooked bool) bool {
		if path == "" {
			return false
		}
		if _, err := os.Stat(path); err != nil {
			return false
		}

		_, span := r.tracer.Start(ctx, "registry.load",
			trace.WithAttributes(attribute.String("file", path), attribute.Bool("cooked", cooked)))
		defer span.End()

		r.mu.Lock()
		defer r.mu.Unlock()
		err := state.LoadFile(path, r.state, r.schemas, state.LoadOptions{
			DataSource:   r.source.Identity(),
			ExpectCooked: cooked,
		})
		if err != nil {
			log.ErrorErr(log.CatRegistry, "registry file rejected", err, "file", path)
			return false
		}
		r.networkChecksum.Store(r.state.Checksum())
		return true
	}

	if try(r.opts.RegistryFile, true) {
		r.wasLoaded = true
		return
	}
	if r.traits.Persistent && try(r.opts.DevelopmentRegistryFile, false) {
		r.wasLoaded = true
	}
}

// SaveDevelopmentCache persists the live state to the development cache
// file immediately.
func (r *Registry) SaveDevelopmentCache(ctx context.Context) error {
	if r.opts.DevelopmentRegistryFile == "" {
		return errors.New("registry: no development registry file configured")
	}
	return r.saveLocked(ctx, r.opts.DevelopmentRegistryFile, false)
}

func (r *Registry) saveLocked(ctx context.Context, path string, cooked bool) error {
	_, span := r.tracer.Start(ctx, "registry.save",
		trace.WithAttributes(attribute.String("file", path), attribute.Bool("cooked", cooked)))
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()
	return state.SaveFile(path, r.state, state.SaveOptions{
		DataSource: r.source.Identity(),
		Cooked:     cooked,
	})
}

// Propagator exposes holder registration for components that keep live
// item references.
func (r *Registry) Propagator() *propagate.Propagator { return r.propagator }

// SubscribeRefresh returns a channel of refresh notifications.
func (r *Registry) SubscribeRefresh(ctx context.Context) <-chan pubsub.Event[RefreshPayload] {
	return r.events.Subscribe(ctx)
}

// WasLoaded reports whether a persisted state was adopted at startup.
func (r *Registry) WasLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.wasLoaded
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Len()
}

// ContainsRecord reports whether id, after redirect resolution, names a
// record.
func (r *Registry) ContainsRecord(id item.Identifier) bool {
	r.redirects.TryRedirect(&id)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.ContainsRecord(id)
}

// ContainsArchetype reports whether any record of the archetype exists.
func (r *Registry) ContainsArchetype(archetype item.Archetype) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.ContainsArchetype(archetype)
}

// Record returns the value-carrying record for id after redirect
// resolution. Reports false when absent.
func (r *Registry) Record(id item.Identifier) (state.RecordData, bool) {
	r.redirects.TryRedirect(&id)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.RecordData(id)
}

// Records returns copies of every record, optionally filtered by
// archetype.
func (r *Registry) Records(archetype item.Archetype) []state.RecordData {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.state.Records(archetype)
	out := make([]state.RecordData, 0, len(stored))
	for i := range stored {
		rd, _ := r.state.RecordData(stored[i].ID())
		out = append(out, rd)
	}
	return out
}

// RecordIDs returns every record id in sorted order.
func (r *Registry) RecordIDs() []item.Identifier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.RecordIDs()
}

// Archetypes returns the distinct archetypes in sorted order.
func (r *Registry) Archetypes() []item.Archetype {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Archetypes()
}

// Checksum returns the current network checksum of the state. Cheap; the
// value is refreshed inside every mutation critical section.
func (r *Registry) Checksum() uint32 {
	return r.networkChecksum.Load()
}

// EncodingBits returns the bit width needed to encode any currently valid
// replication index.
func (r *Registry) EncodingBits() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.EncodingBits()
}

// ReplicationIndexOf returns the dense network index for id. Zero when
// the record is absent.
func (r *Registry) ReplicationIndexOf(id item.Identifier) uint32 {
	r.redirects.TryRedirect(&id)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec := r.state.RecordPtr(id); rec != nil {
		return rec.ReplicationIndex()
	}
	return 0
}

// ResolveReplicationIndex maps a peer-sent replication index back to an
// identifier. A checksum of zero skips validation. Any failure returns
// ErrReplicationDesync, a peer-trust signal the caller decides the
// consequence of.
func (r *Registry) ResolveReplicationIndex(repIndex uint32, checksum uint32) (item.Identifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec := r.state.RecordFromReplicationIndex(repIndex)
	if rec == nil {
		return item.Identifier{}, fmt.Errorf("%w: index %d", ErrReplicationDesync, repIndex)
	}
	if r.opts.ValidateReplicationChecksums && checksum != 0 {
		if r.state.RecordChecksum(rec) != checksum {
			return item.Identifier{}, fmt.Errorf("%w: checksum mismatch for %s", ErrReplicationDesync, rec.ID())
		}
	}
	return rec.ID(), nil
}

// FindRecordFromName resolves a bare name to a full identifier, searching
// across archetypes. Lookups cache until the next refresh.
func (r *Registry) FindRecordFromName(name item.Name) (item.Identifier, bool) {
	r.redirects.TryRedirectName(&name)

	if id, ok := r.nameCache.Get(name); ok {
		return id, true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.state.RecordIDs() {
		if id.Name == name {
			r.nameCache.Set(name, id)
			return id, true
		}
	}
	return item.Identifier{}, false
}

// Schemas exposes the payload schema registry shared with the data
// source.
func (r *Registry) Schemas() *item.SchemaRegistry { return r.schemas }

// RedirectGraph exposes the resolved redirect graph.
func (r *Registry) RedirectGraph() *redirect.Graph { return r.redirects }

// ForceRefresh asks the data source to rescan. Sync refreshes complete
// before returning.
func (r *Registry) ForceRefresh(sync bool) { r.source.ForceRefresh(sync) }

// FlushPendingRefresh applies a scheduled refresh now. Must run on the
// owning goroutine.
func (r *Registry) FlushPendingRefresh() { r.source.FlushPendingRefresh() }

// CancelPendingRefresh discards a scheduled refresh.
func (r *Registry) CancelPendingRefresh() { r.source.CancelPendingRefresh() }

// IsPendingRefresh reports whether a refresh is scheduled.
func (r *Registry) IsPendingRefresh() bool { return r.source.IsPendingRefresh() }

// IsRefreshing reports whether a refresh is being applied.
func (r *Registry) IsRefreshing() bool { return r.source.IsRefreshing() }

// ReportInvariantViolations returns human-readable descriptions of
// configuration states that work but indicate drift, such as records
// whose id is still a redirect source.
func (r *Registry) ReportInvariantViolations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, id := range r.state.RecordIDs() {
		if r.redirects.IsStale(id) {
			out = append(out, fmt.Sprintf("record %s is also a redirect source; the redirect shadows it", id))
		}
	}
	return out
}
