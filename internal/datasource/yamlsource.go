package datasource

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/commonforge/itemregistry/internal/item"
	"github.com/commonforge/itemregistry/internal/log"
	"github.com/commonforge/itemregistry/internal/state"
)

// YAMLIdentity is the data-source identity recorded in files produced
// from YAML definition directories.
const YAMLIdentity = "yaml-directory"

// definitionFile is the on-disk shape of one YAML definition file.
type definitionFile struct {
	Schemas    []schemaDef    `yaml:"schemas"`
	Archetypes []archetypeDef `yaml:"archetypes"`
}

type schemaDef struct {
	Name   string     `yaml:"name"`
	Fields []fieldDef `yaml:"fields"`
}

type fieldDef struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
	Size int    `yaml:"size"`
}

type archetypeDef struct {
	Archetype string    `yaml:"archetype"`
	Items     []itemDef `yaml:"items"`
}

type itemDef struct {
	Name         string      `yaml:"name"`
	Tags         []string    `yaml:"tags"`
	MaxStackSize int32       `yaml:"max_stack_size"`
	Defaults     *payloadDef `yaml:"defaults"`
	CustomData   *payloadDef `yaml:"custom_data"`
}

type payloadDef struct {
	Schema string         `yaml:"schema"`
	Values map[string]any `yaml:"values"`
}

// YAMLSource scans a directory tree of YAML definition files and feeds
// the parsed records into the registry. The directory is watched; changes
// schedule a refresh that the registry owner flushes at its own pace.
type YAMLSource struct {
	dir     string
	schemas *item.SchemaRegistry

	mu      sync.Mutex
	bridge  Bridge
	watcher *fsnotify.Watcher
	scanned []state.RecordData // result of the last async scan, nil when consumed
	scanWG  sync.WaitGroup

	pending    atomic.Bool
	refreshing atomic.Bool
	closed     atomic.Bool
}

var _ DataSource = (*YAMLSource)(nil)

// NewYAMLSource builds a source over a definition directory. Parsed
// schemas register into the given registry.
func NewYAMLSource(dir string, schemas *item.SchemaRegistry) *YAMLSource {
	return &YAMLSource{dir: dir, schemas: schemas}
}

// Identity implements DataSource.
func (s *YAMLSource) Identity() string { return YAMLIdentity }

// Traits implements DataSource.
func (s *YAMLSource) Traits() Traits {
	return Traits{Persistent: true, SupportsCooking: true, SupportsDevelopmentCooking: true}
}

// Initialize starts the directory watcher.
func (s *YAMLSource) Initialize(bridge Bridge) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	// fsnotify watches are not recursive; every subdirectory needs its own.
	err = filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	s.mu.Lock()
	s.bridge = bridge
	s.watcher = watcher
	s.mu.Unlock()

	go s.watchLoop(watcher)
	return nil
}

// PostInitialize performs the initial scan and pushes the full record
// set. When the registry already adopted a persisted state the scan is
// deferred to a scheduled refresh, so startup stays cheap and the
// directory reconciles lazily.
func (s *YAMLSource) PostInitialize() error {
	s.mu.Lock()
	bridge := s.bridge
	s.mu.Unlock()

	if bridge != nil && bridge.WasLoaded() {
		s.pending.Store(true)
		return nil
	}

	records, err := s.scan()
	if err != nil {
		return err
	}
	s.apply(records)
	return nil
}

// Deinitialize stops the watcher and waits for background scans.
func (s *YAMLSource) Deinitialize() {
	s.closed.Store(true)

	s.mu.Lock()
	watcher := s.watcher
	s.watcher = nil
	s.bridge = nil
	s.mu.Unlock()

	if watcher != nil {
		watcher.Close()
	}
	s.scanWG.Wait()
}

// ForceRefresh rescans the directory. Sync refreshes scan and apply on
// the calling goroutine; scheduled ones scan in the background and leave
// the apply for FlushPendingRefresh.
func (s *YAMLSource) ForceRefresh(sync bool) {
	if sync {
		records, err := s.scan()
		if err != nil {
			log.ErrorErr(log.CatSource, "definition scan failed", err, "dir", s.dir)
			return
		}
		s.apply(records)
		return
	}

	s.pending.Store(true)
	s.scanWG.Add(1)
	go func() {
		defer s.scanWG.Done()
		records, err := s.scan()
		if err != nil {
			log.ErrorErr(log.CatSource, "background scan failed", err, "dir", s.dir)
			return
		}
		s.mu.Lock()
		if s.pending.Load() {
			s.scanned = records
		}
		s.mu.Unlock()
	}()
}

// FlushPendingRefresh applies a scheduled refresh on the calling
// goroutine, scanning synchronously if no background result is ready.
func (s *YAMLSource) FlushPendingRefresh() {
	if !s.pending.CompareAndSwap(true, false) {
		return
	}

	s.mu.Lock()
	records := s.scanned
	s.scanned = nil
	s.mu.Unlock()

	if records == nil {
		var err error
		if records, err = s.scan(); err != nil {
			log.ErrorErr(log.CatSource, "definition scan failed", err, "dir", s.dir)
			return
		}
	}
	s.apply(records)
}

// CancelPendingRefresh discards any scheduled refresh and scan result.
func (s *YAMLSource) CancelPendingRefresh() {
	s.pending.Store(false)
	s.mu.Lock()
	s.scanned = nil
	s.mu.Unlock()
}

// IsPendingRefresh implements DataSource.
func (s *YAMLSource) IsPendingRefresh() bool { return s.pending.Load() }

// IsRefreshing implements DataSource.
func (s *YAMLSource) IsRefreshing() bool { return s.refreshing.Load() }

// FlushPendingLoads waits for in-flight background scans.
func (s *YAMLSource) FlushPendingLoads() { s.scanWG.Wait() }

func (s *YAMLSource) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					// Watches are per-directory, so a new subdirectory
					// needs its own, and it may already hold definitions.
					if err := watcher.Add(event.Name); err != nil {
						log.ErrorErr(log.CatSource, "watch new directory failed", err,
							"dir", event.Name)
					}
					s.pending.Store(true)
					continue
				}
			}
			if !isDefinitionFile(event.Name) {
				continue
			}
			log.Debug(log.CatSource, "definition change detected",
				"file", filepath.Base(event.Name), "op", event.Op.String())
			s.pending.Store(true)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatSource, "watcher error", err, "dir", s.dir)
		}
	}
}

func (s *YAMLSource) apply(records []state.RecordData) {
	s.mu.Lock()
	bridge := s.bridge
	s.mu.Unlock()

	if bridge == nil {
		return
	}
	if bridge.IsCooking() {
		log.Warn(log.CatSource, "refresh suppressed while cooking", "dir", s.dir)
		return
	}

	s.refreshing.Store(true)
	defer s.refreshing.Store(false)
	s.pending.Store(false)
	bridge.ResetRecords(records)
}

// scan walks the definition directory, registers schemas and parses every
// record. Files sort by path so records arrive in a deterministic order.
func (s *YAMLSource) scan() ([]state.RecordData, error) {
	var paths []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isDefinitionFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.dir, err)
	}
	sort.Strings(paths)

	var records []state.RecordData
	for _, path := range paths {
		fileRecords, err := s.parseFile(path)
		if err != nil {
			return nil, err
		}
		records = append(records, fileRecords...)
	}

	log.Info(log.CatSource, "definition scan complete",
		"dir", s.dir, "files", len(paths), "records", len(records))
	return records, nil
}

func (s *YAMLSource) parseFile(path string) ([]state.RecordData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var file definitionFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for _, def := range file.Schemas {
		if err := s.registerSchema(def); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	rel, err := filepath.Rel(s.dir, path)
	if err != nil {
		rel = filepath.Base(path)
	}

	var records []state.RecordData
	for _, group := range file.Archetypes {
		for _, def := range group.Items {
			rd, err := s.buildRecord(group.Archetype, def, rel)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			records = append(records, rd)
		}
	}
	return records, nil
}

// registerSchema resolves a schema definition against the registry. A
// redefinition with the same layout is tolerated so multiple files can
// restate a shared schema; a conflicting one is an error.
func (s *YAMLSource) registerSchema(def schemaDef) error {
	specs := make([]item.FieldSpec, 0, len(def.Fields))
	for _, f := range def.Fields {
		kind, err := item.ParseKind(f.Kind)
		if err != nil {
			return fmt.Errorf("schema %s field %s: %w", def.Name, f.Name, err)
		}
		specs = append(specs, item.FieldSpec{Name: f.Name, Kind: kind, Size: f.Size})
	}

	schema, err := item.NewSchema(def.Name, specs...)
	if err != nil {
		return err
	}

	if existing, ok := s.schemas.Lookup(def.Name); ok {
		if !sameLayout(existing, schema) {
			return fmt.Errorf("schema %s redefined with a different layout", def.Name)
		}
		return nil
	}
	return s.schemas.Register(schema)
}

func sameLayout(a, b *item.Schema) bool {
	af, bf := a.Fields(), b.Fields()
	if a.Size() != b.Size() || len(af) != len(bf) {
		return false
	}
	for i := range af {
		if af[i] != bf[i] {
			return false
		}
	}
	return true
}

func (s *YAMLSource) buildRecord(archetype string, def itemDef, file string) (state.RecordData, error) {
	if archetype == "" || def.Name == "" {
		return state.RecordData{}, fmt.Errorf("record %s:%s: empty identifier component", archetype, def.Name)
	}

	rd := state.RecordData{
		Shared: item.SharedData{
			ID:           item.MakeIdentifier(archetype, def.Name),
			Tags:         def.Tags,
			MaxStackSize: def.MaxStackSize,
		},
		AssetPath: file + "#" + archetype + ":" + def.Name,
	}

	var err error
	if rd.DefaultPayload, err = s.buildValue(def.Defaults); err != nil {
		return state.RecordData{}, fmt.Errorf("record %s: defaults: %w", rd.Shared.ID, err)
	}
	if rd.CustomData, err = s.buildValue(def.CustomData); err != nil {
		return state.RecordData{}, fmt.Errorf("record %s: custom_data: %w", rd.Shared.ID, err)
	}
	return rd, nil
}

func (s *YAMLSource) buildValue(def *payloadDef) (item.Value, error) {
	if def == nil {
		return item.Value{}, nil
	}
	schema, ok := s.schemas.Lookup(def.Schema)
	if !ok {
		return item.Value{}, fmt.Errorf("unknown schema %q", def.Schema)
	}

	v := item.MakeValue(schema)
	for name, raw := range def.Values {
		f, ok := schema.FieldByName(name)
		if !ok {
			return item.Value{}, fmt.Errorf("schema %s has no field %q", def.Schema, name)
		}
		if err := setField(v, f, raw); err != nil {
			return item.Value{}, fmt.Errorf("field %s: %w", name, err)
		}
	}
	return v, nil
}

func setField(v item.Value, f item.Field, raw any) error {
	switch f.Kind {
	case item.KindU32:
		n, err := asInt64(raw)
		if err != nil || n < 0 || n > int64(^uint32(0)) {
			return fmt.Errorf("expected u32, got %v", raw)
		}
		v.SetU32(f, uint32(n))
	case item.KindI64:
		n, err := asInt64(raw)
		if err != nil {
			return fmt.Errorf("expected i64, got %v", raw)
		}
		v.SetI64(f, n)
	case item.KindF64:
		switch x := raw.(type) {
		case float64:
			v.SetF64(f, x)
		case int:
			v.SetF64(f, float64(x))
		default:
			return fmt.Errorf("expected f64, got %v", raw)
		}
	case item.KindBytes:
		str, ok := raw.(string)
		if !ok {
			return fmt.Errorf("expected hex string, got %v", raw)
		}
		decoded, err := hex.DecodeString(strings.TrimPrefix(str, "0x"))
		if err != nil {
			return fmt.Errorf("bad hex: %w", err)
		}
		if len(decoded) > f.Size {
			return fmt.Errorf("%d bytes exceed field size %d", len(decoded), f.Size)
		}
		copy(v.FieldBytes(f), decoded)
	default:
		return fmt.Errorf("unsupported kind %v", f.Kind)
	}
	return nil
}

func asInt64(raw any) (int64, error) {
	switch x := raw.(type) {
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case uint64:
		return int64(x), nil
	default:
		return 0, fmt.Errorf("not an integer: %v", raw)
	}
}

func isDefinitionFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
