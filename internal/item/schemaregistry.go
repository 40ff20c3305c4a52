package item

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Schema registry errors
var (
	ErrSchemaDuplicate = errors.New("schema already registered")
	ErrSchemaNil       = errors.New("schema cannot be nil")
)

// SchemaRegistry resolves payload schema names to their descriptors. The
// serializer consults it while loading: a blob naming an unknown schema
// rejects the whole load. Safe for concurrent use.
type SchemaRegistry struct {
	mu     sync.RWMutex
	byName map[string]*Schema
}

// NewSchemaRegistry creates an empty schema registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{byName: make(map[string]*Schema)}
}

// Register adds a schema under its name. Re-registering the same pointer is
// idempotent; a different schema under a taken name is an error.
func (r *SchemaRegistry) Register(s *Schema) error {
	if s == nil {
		return ErrSchemaNil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[s.Name()]; ok {
		if existing == s {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrSchemaDuplicate, s.Name())
	}

	r.byName[s.Name()] = s
	return nil
}

// Lookup returns the schema registered under name.
func (r *SchemaRegistry) Lookup(name string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// Names returns all registered schema names, sorted.
func (r *SchemaRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
