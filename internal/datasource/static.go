package datasource

import (
	"sync"
	"sync/atomic"

	"github.com/commonforge/itemregistry/internal/state"
)

// StaticSource serves a fixed record set handed to it up front. Useful for
// tests and for embedding small registries without any backing store.
type StaticSource struct {
	identity string
	traits   Traits

	mu      sync.Mutex
	records []state.RecordData
	bridge  Bridge

	pending    atomic.Bool
	refreshing atomic.Bool
}

var _ DataSource = (*StaticSource)(nil)

// NewStaticSource builds a source serving the given records.
func NewStaticSource(identity string, records []state.RecordData) *StaticSource {
	return &StaticSource{
		identity: identity,
		traits:   Traits{SupportsCooking: true},
		records:  records,
	}
}

// SetRecords replaces the served record set and schedules a refresh.
func (s *StaticSource) SetRecords(records []state.RecordData) {
	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
	s.pending.Store(true)
}

// Identity implements DataSource.
func (s *StaticSource) Identity() string { return s.identity }

// Traits implements DataSource.
func (s *StaticSource) Traits() Traits { return s.traits }

// Initialize implements DataSource.
func (s *StaticSource) Initialize(bridge Bridge) error {
	s.mu.Lock()
	s.bridge = bridge
	s.mu.Unlock()
	return nil
}

// PostInitialize pushes the initial record set, unless the registry
// already adopted a persisted state.
func (s *StaticSource) PostInitialize() error {
	s.mu.Lock()
	bridge := s.bridge
	s.mu.Unlock()

	if bridge != nil && bridge.WasLoaded() {
		return nil
	}
	s.apply()
	return nil
}

// Deinitialize implements DataSource.
func (s *StaticSource) Deinitialize() {
	s.mu.Lock()
	s.bridge = nil
	s.mu.Unlock()
}

// ForceRefresh implements DataSource. The static source has nothing to
// scan, so sync and scheduled refreshes both apply immediately or mark
// pending.
func (s *StaticSource) ForceRefresh(sync bool) {
	if sync {
		s.apply()
		return
	}
	s.pending.Store(true)
}

// FlushPendingRefresh implements DataSource.
func (s *StaticSource) FlushPendingRefresh() {
	if s.pending.CompareAndSwap(true, false) {
		s.apply()
	}
}

// CancelPendingRefresh implements DataSource.
func (s *StaticSource) CancelPendingRefresh() { s.pending.Store(false) }

// IsPendingRefresh implements DataSource.
func (s *StaticSource) IsPendingRefresh() bool { return s.pending.Load() }

// IsRefreshing implements DataSource.
func (s *StaticSource) IsRefreshing() bool { return s.refreshing.Load() }

// FlushPendingLoads implements DataSource. Static records are always
// resident.
func (s *StaticSource) FlushPendingLoads() {}

func (s *StaticSource) apply() {
	s.mu.Lock()
	bridge := s.bridge
	records := s.records
	s.mu.Unlock()

	if bridge == nil || bridge.IsCooking() {
		return
	}

	s.refreshing.Store(true)
	defer s.refreshing.Store(false)
	s.pending.Store(false)
	bridge.ResetRecords(records)
}
