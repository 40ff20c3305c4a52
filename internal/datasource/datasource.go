// Package datasource defines the collaborator contract that feeds records
// into the registry, plus concrete sources. The registry calls back into a
// source only on its owning goroutine; sources push scanned records
// through the Bridge.
package datasource

import (
	"github.com/commonforge/itemregistry/internal/item"
	"github.com/commonforge/itemregistry/internal/state"
)

// Traits describes capabilities of a data source kind.
type Traits struct {
	// Persistent sources are backed by durable storage and participate in
	// the development cache file.
	Persistent bool

	// SupportsCooking allows producing the stripped shipped registry file.
	SupportsCooking bool

	// SupportsDevelopmentCooking allows cook output in uncooked builds,
	// for iterating on the shipped file locally.
	SupportsDevelopmentCooking bool
}

// Bridge is the registry-side surface a data source pushes records
// through. All calls must happen on the registry's owning goroutine.
type Bridge interface {
	// AppendRecords inserts or updates records, returning how many were
	// newly added.
	AppendRecords(records []state.RecordData) int

	// RemoveRecords removes records by id, returning how many existed.
	RemoveRecords(ids []item.Identifier) int

	// ResetRecords replaces the whole record set.
	ResetRecords(records []state.RecordData)

	// WasLoaded reports whether the registry adopted a persisted state.
	WasLoaded() bool

	// IsCooking reports whether the registry is producing cook output;
	// sources must not push refreshes while it is set.
	IsCooking() bool
}

// DataSource supplies records to the registry and controls refresh
// scheduling. Lifecycle: Initialize, PostInitialize, refresh cycle
// operations, Deinitialize.
type DataSource interface {
	// Identity names the source kind; persisted states record it and a
	// load under a different identity is rejected.
	Identity() string

	// Traits returns the source's capabilities.
	Traits() Traits

	// Initialize binds the source to the registry bridge.
	Initialize(bridge Bridge) error

	// PostInitialize runs after the registry finished its own setup,
	// typically performing the initial scan.
	PostInitialize() error

	// Deinitialize releases watchers and background work.
	Deinitialize()

	// ForceRefresh rescans the backing store. With sync set the refresh
	// completes before returning, otherwise it is scheduled.
	ForceRefresh(sync bool)

	// FlushPendingRefresh applies a scheduled refresh now, on the calling
	// goroutine.
	FlushPendingRefresh()

	// CancelPendingRefresh discards a scheduled refresh.
	CancelPendingRefresh()

	// IsPendingRefresh reports whether a refresh is scheduled.
	IsPendingRefresh() bool

	// IsRefreshing reports whether a refresh is being applied right now.
	IsRefreshing() bool

	// FlushPendingLoads synchronously drains asynchronous record loading,
	// a hard precondition of defaults propagation.
	FlushPendingLoads()
}
