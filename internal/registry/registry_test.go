package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/commonforge/itemregistry/internal/datasource"
	"github.com/commonforge/itemregistry/internal/item"
	"github.com/commonforge/itemregistry/internal/propagate"
	"github.com/commonforge/itemregistry/internal/redirect"
	"github.com/commonforge/itemregistry/internal/state"
)

var statsSchema = item.MustSchema("Stats",
	item.FieldSpec{Name: "damage", Kind: item.KindU32},
	item.FieldSpec{Name: "weight", Kind: item.KindF64},
)

var damageField, _ = statsSchema.FieldByName("damage")

func statsValue(damage uint32) item.Value {
	v := item.MakeValue(statsSchema)
	v.SetU32(damageField, damage)
	return v
}

func record(archetype, name string, damage uint32) state.RecordData {
	return state.RecordData{
		Shared: item.SharedData{
			ID:           item.MakeIdentifier(archetype, name),
			MaxStackSize: 1,
		},
		AssetPath:      "/defs/" + archetype + "/" + name,
		DefaultPayload: statsValue(damage),
	}
}

func testSchemas(t testing.TB) *item.SchemaRegistry {
	t.Helper()
	schemas := item.NewSchemaRegistry()
	require.NoError(t, schemas.Register(statsSchema))
	return schemas
}

func newTestRegistry(t *testing.T, opts Options, records ...state.RecordData) (*Registry, *datasource.StaticSource) {
	t.Helper()
	source := datasource.NewStaticSource("static-test", records)
	opts.Source = source
	if opts.Schemas == nil {
		opts.Schemas = testSchemas(t)
	}

	r, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, r.Initialize(context.Background()))
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r, source
}

func TestNew_RequiresSource(t *testing.T) {
	_, err := New(Options{})
	require.ErrorIs(t, err, ErrNoDataSource)
}

func TestInitialize_AdoptsSourceRecords(t *testing.T) {
	r, _ := newTestRegistry(t, Options{},
		record("Weapon", "Sword", 10),
		record("Consumable", "Potion", 0),
	)

	require.Equal(t, 2, r.Len())
	require.True(t, r.ContainsRecord(item.MakeIdentifier("Weapon", "Sword")))
	require.True(t, r.ContainsArchetype("Consumable"))
	require.False(t, r.WasLoaded())
	require.NotZero(t, r.Checksum())

	rd, ok := r.Record(item.MakeIdentifier("Weapon", "Sword"))
	require.True(t, ok)
	require.Equal(t, uint32(10), rd.DefaultPayload.U32(damageField))

	require.Len(t, r.Records("Weapon"), 1)
	require.Len(t, r.Records(""), 2)
	require.Equal(t, []item.Archetype{"Consumable", "Weapon"}, r.Archetypes())
}

func TestRefresh_NoOpRescanKeepsChecksum(t *testing.T) {
	r, source := newTestRegistry(t, Options{}, record("Weapon", "Sword", 10))
	before := r.Checksum()

	events := r.SubscribeRefresh(context.Background())
	source.ForceRefresh(true) // identical content

	require.Equal(t, before, r.Checksum())
	select {
	case ev := <-events:
		require.Empty(t, ev.Payload.Touched, "no-op rescan must not report touched records")
	case <-time.After(100 * time.Millisecond):
		// Equally acceptable: no event published for a no-op refresh.
	}
}

func TestRefresh_PublishesTouched(t *testing.T) {
	r, source := newTestRegistry(t, Options{}, record("Weapon", "Sword", 10))
	before := r.Checksum()

	events := r.SubscribeRefresh(context.Background())
	source.SetRecords([]state.RecordData{
		record("Weapon", "Sword", 12),
		record("Weapon", "Axe", 5),
	})
	r.FlushPendingRefresh()

	require.NotEqual(t, before, r.Checksum())
	require.Equal(t, 2, r.Len())

	select {
	case ev := <-events:
		require.True(t, ev.Payload.WasReset)
		require.ElementsMatch(t, []item.Identifier{
			item.MakeIdentifier("Weapon", "Sword"),
			item.MakeIdentifier("Weapon", "Axe"),
		}, ev.Payload.Touched)
		require.Equal(t, r.Checksum(), ev.Payload.Checksum)
	case <-time.After(time.Second):
		t.Fatal("no refresh event published")
	}
}

func TestRefresh_RemovalTouchesHolders(t *testing.T) {
	r, source := newTestRegistry(t, Options{}, record("Weapon", "Sword", 10))

	held := item.NewItemWithPayload(item.MakeIdentifier("Weapon", "Sword"), statsValue(10))
	unregister := r.Propagator().RegisterHolder(propagate.HolderFunc(func() []*item.Item {
		return []*item.Item{held}
	}))
	defer unregister()

	source.SetRecords(nil)
	r.FlushPendingRefresh()

	require.Zero(t, r.Len())
	require.False(t, held.IsValid(), "holder cleared when its record vanished")
}

func TestRefresh_PropagatesDefaults(t *testing.T) {
	r, source := newTestRegistry(t, Options{}, record("Weapon", "Sword", 10))

	pristine := item.NewItemWithPayload(item.MakeIdentifier("Weapon", "Sword"), statsValue(10))
	customized := item.NewItemWithPayload(item.MakeIdentifier("Weapon", "Sword"), statsValue(77))
	unregister := r.Propagator().RegisterHolder(propagate.HolderFunc(func() []*item.Item {
		return []*item.Item{pristine, customized}
	}))
	defer unregister()

	source.SetRecords([]state.RecordData{record("Weapon", "Sword", 20)})
	r.FlushPendingRefresh()

	require.Equal(t, uint32(20), pristine.Payload().U32(damageField))
	require.Equal(t, uint32(77), customized.Payload().U32(damageField))
}

func TestReplicationIndexRoundTrip(t *testing.T) {
	r, _ := newTestRegistry(t, Options{ValidateReplicationChecksums: true},
		record("Weapon", "Sword", 10),
		record("Weapon", "Axe", 5),
	)

	id := item.MakeIdentifier("Weapon", "Axe")
	index := r.ReplicationIndexOf(id)
	require.NotZero(t, index)

	resolved, err := r.ResolveReplicationIndex(index, 0)
	require.NoError(t, err)
	require.Equal(t, id, resolved)

	_, err = r.ResolveReplicationIndex(99, 0)
	require.ErrorIs(t, err, ErrReplicationDesync)

	_, err = r.ResolveReplicationIndex(index, 0xbadf00d)
	require.ErrorIs(t, err, ErrReplicationDesync, "wrong record checksum is a desync")

	require.Zero(t, r.ReplicationIndexOf(item.MakeIdentifier("Weapon", "Ghost")))
	require.Equal(t, 2, r.EncodingBits())
}

func TestFindRecordFromName(t *testing.T) {
	r, source := newTestRegistry(t, Options{},
		record("Weapon", "Sword", 10),
		record("Consumable", "Potion", 0),
	)

	id, ok := r.FindRecordFromName("Potion")
	require.True(t, ok)
	require.Equal(t, item.MakeIdentifier("Consumable", "Potion"), id)

	// Second lookup hits the cache; a refresh flushes it.
	id, ok = r.FindRecordFromName("Potion")
	require.True(t, ok)
	require.Equal(t, item.Archetype("Consumable"), id.Archetype)

	source.SetRecords([]state.RecordData{record("Weapon", "Sword", 10)})
	r.FlushPendingRefresh()

	_, ok = r.FindRecordFromName("Potion")
	require.False(t, ok)
}

func TestRedirects_ResolveQueries(t *testing.T) {
	r, _ := newTestRegistry(t, Options{
		NameRedirects: []redirect.Redirector[item.Name]{{Old: "Blade", New: "Sword"}},
		ArchetypeRedirects: []redirect.Redirector[item.Archetype]{
			{Old: "Melee", New: "Weapon"},
		},
	}, record("Weapon", "Sword", 10))

	require.True(t, r.ContainsRecord(item.MakeIdentifier("Melee", "Blade")),
		"stale identifier resolves through both redirects")

	rd, ok := r.Record(item.MakeIdentifier("Melee", "Blade"))
	require.True(t, ok)
	require.Equal(t, item.MakeIdentifier("Weapon", "Sword"), rd.ID())

	id, ok := r.FindRecordFromName("Blade")
	require.True(t, ok)
	require.Equal(t, item.Name("Sword"), id.Name)

	require.NotZero(t, r.ReplicationIndexOf(item.MakeIdentifier("Melee", "Blade")))
}

func TestReportInvariantViolations(t *testing.T) {
	r, _ := newTestRegistry(t, Options{
		NameRedirects: []redirect.Redirector[item.Name]{{Old: "Sword", New: "Blade"}},
	}, record("Weapon", "Sword", 10))

	violations := r.ReportInvariantViolations()
	require.Len(t, violations, 1)
	require.Contains(t, violations[0], "Weapon:Sword")

	clean, _ := newTestRegistry(t, Options{}, record("Weapon", "Sword", 10))
	require.Empty(t, clean.ReportInvariantViolations())
}

func TestItemUtilities(t *testing.T) {
	r, _ := newTestRegistry(t, Options{
		NameRedirects: []redirect.Redirector[item.Name]{{Old: "Blade", New: "Sword"}},
	}, record("Weapon", "Sword", 10))

	t.Run("reset to defaults", func(t *testing.T) {
		it := item.NewItemWithPayload(item.MakeIdentifier("Weapon", "Blade"), statsValue(99))
		r.ResetItem(it)
		require.Equal(t, item.MakeIdentifier("Weapon", "Sword"), it.ID())
		require.Equal(t, uint32(10), it.Payload().U32(damageField))
	})

	t.Run("reset clears unknown", func(t *testing.T) {
		it := item.NewItem(item.MakeIdentifier("Weapon", "Ghost"))
		r.ResetItem(it)
		require.False(t, it.IsValid())
	})

	t.Run("validate", func(t *testing.T) {
		require.ErrorIs(t, r.ValidateItem(item.NewItem(item.Identifier{})), ErrItemInvalidID)
		require.ErrorIs(t, r.ValidateItem(item.NewItem(item.MakeIdentifier("Weapon", "Blade"))), ErrItemStaleID)
		require.ErrorIs(t, r.ValidateItem(item.NewItem(item.MakeIdentifier("Weapon", "Ghost"))), ErrItemUnknownRecord)

		ok := item.NewItemWithPayload(item.MakeIdentifier("Weapon", "Sword"), statsValue(5))
		require.NoError(t, r.ValidateItem(ok))

		other := item.MustSchema("Other", item.FieldSpec{Name: "x", Kind: item.KindU32})
		bad := item.NewItemWithPayload(item.MakeIdentifier("Weapon", "Sword"), item.MakeValue(other))
		require.ErrorIs(t, r.ValidateItem(bad), ErrItemPayloadSchema)
	})

	t.Run("synchronize", func(t *testing.T) {
		it := item.NewItemWithPayload(item.MakeIdentifier("Weapon", "Blade"), statsValue(99))
		require.True(t, r.SynchronizeItem(it))
		require.Equal(t, item.MakeIdentifier("Weapon", "Sword"), it.ID())
		require.Equal(t, uint32(99), it.Payload().U32(damageField), "customization survives sync")
		require.False(t, r.SynchronizeItem(it), "second sync is a no-op")

		gone := item.NewItemWithPayload(item.MakeIdentifier("Weapon", "Ghost"), statsValue(1))
		require.True(t, r.SynchronizeItem(gone))
		require.False(t, gone.IsValid())
	})
}

func TestCookingMode(t *testing.T) {
	dir := t.TempDir()
	r, source := newTestRegistry(t, Options{}, record("Weapon", "Sword", 10))

	require.NoError(t, r.EnterCookingMode())
	require.True(t, r.IsCooking())
	require.ErrorIs(t, r.EnterCookingMode(), ErrAlreadyCooking)

	cookPath := filepath.Join(dir, "registry.bin")
	require.NoError(t, r.WriteForCook(context.Background(), cookPath))

	// A refresh while cooking must not mutate the registry.
	source.ForceRefresh(true)
	require.Equal(t, 1, r.Len())

	r.LeaveCookingMode()
	require.False(t, r.IsCooking())

	// The cooked file boots a fresh registry.
	loaded, err := New(Options{
		Source:       datasource.NewStaticSource("static-test", nil),
		Schemas:      testSchemas(t),
		RegistryFile: cookPath,
	})
	require.NoError(t, err)
	require.NoError(t, loaded.Initialize(context.Background()))
	defer loaded.Close(context.Background())

	require.True(t, loaded.WasLoaded())
	require.Equal(t, 1, loaded.Len())
}

func TestDevelopmentCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	devPath := filepath.Join(dir, "registry_dev.bin")

	// StaticSource is not persistent, so write the cache explicitly.
	r, _ := newTestRegistry(t, Options{DevelopmentRegistryFile: devPath},
		record("Weapon", "Sword", 10))
	require.NoError(t, r.SaveDevelopmentCache(context.Background()))
	checksum := r.Checksum()

	loaded := state.NewState()
	require.NoError(t, state.LoadFile(devPath, loaded, testSchemas(t), state.LoadOptions{
		DataSource: "static-test",
	}))
	require.Equal(t, checksum, loaded.Checksum())
}

func TestClose_RemovesStaleDevelopmentCache(t *testing.T) {
	dir := t.TempDir()
	devPath := filepath.Join(dir, "registry_dev.bin")

	r, _ := newTestRegistry(t, Options{DevelopmentRegistryFile: devPath},
		record("Weapon", "Sword", 10))
	require.NoError(t, r.SaveDevelopmentCache(context.Background()))
	require.FileExists(t, devPath)

	// StaticSource cannot produce development cooks, so shutdown must not
	// leave the cache behind for the next start to adopt.
	require.NoError(t, r.Close(context.Background()))
	require.NoFileExists(t, devPath)
}

func TestMutationWhileCookingPanics(t *testing.T) {
	r, source := newTestRegistry(t, Options{}, record("Weapon", "Sword", 10))
	require.NoError(t, r.EnterCookingMode())
	defer r.LeaveCookingMode()

	// StaticSource checks IsCooking before pushing, so drive the bridge
	// directly the way a misbehaving source would.
	bridge := &sourceBridge{registry: r}
	require.Panics(t, func() {
		bridge.ResetRecords(nil)
	})
	_ = source
}

func TestDump(t *testing.T) {
	r, _ := newTestRegistry(t, Options{}, record("Weapon", "Sword", 10))

	dump := r.Dump()
	require.Contains(t, dump, "static-test")
	require.Contains(t, dump, "Weapon:Sword")
	require.Contains(t, dump, "Stats")
}
