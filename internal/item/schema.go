package item

import (
	"errors"
	"fmt"
)

// Schema errors
var (
	ErrSchemaNoFields       = errors.New("schema must declare at least one field")
	ErrSchemaDuplicateField = errors.New("duplicate field name in schema")
	ErrSchemaBadFieldSize   = errors.New("byte field requires an explicit positive size")
	ErrSchemaUnknownKind    = errors.New("unknown field kind")
)

// Kind enumerates the supported payload field kinds. Every kind has a fixed
// byte width so a schema can expose ordered (field, byte-range) pairs
// without runtime reflection.
type Kind uint8

const (
	KindU32 Kind = iota + 1
	KindI64
	KindF64
	KindBytes
)

// ParseKind maps a textual kind token (as used in definition files) to Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "u32":
		return KindU32, nil
	case "i64":
		return KindI64, nil
	case "f64":
		return KindF64, nil
	case "bytes":
		return KindBytes, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrSchemaUnknownKind, s)
	}
}

func (k Kind) String() string {
	switch k {
	case KindU32:
		return "u32"
	case KindI64:
		return "i64"
	case KindF64:
		return "f64"
	case KindBytes:
		return "bytes"
	default:
		return "invalid"
	}
}

// FieldSpec declares one schema field. Size is only consulted for KindBytes;
// the numeric kinds have fixed widths.
type FieldSpec struct {
	Name string
	Kind Kind
	Size int
}

// Field is a resolved schema field with its byte range inside a value.
type Field struct {
	ID     uint16
	Name   string
	Kind   Kind
	Offset int
	Size   int
}

// Schema describes the fixed layout of one payload type. Values of the same
// schema are comparable field by field through plain byte ranges.
// Schemas are immutable after construction and compared by pointer identity.
type Schema struct {
	name   string
	size   int
	fields []Field
	byName map[string]int
}

// NewSchema builds a schema from ordered field specs. Field ids are assigned
// from declaration order and offsets are packed without padding.
func NewSchema(name string, specs ...FieldSpec) (*Schema, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSchemaNoFields, name)
	}

	s := &Schema{
		name:   name,
		fields: make([]Field, 0, len(specs)),
		byName: make(map[string]int, len(specs)),
	}

	for i, spec := range specs {
		if _, exists := s.byName[spec.Name]; exists {
			return nil, fmt.Errorf("%w: %s.%s", ErrSchemaDuplicateField, name, spec.Name)
		}

		size := 0
		switch spec.Kind {
		case KindU32:
			size = 4
		case KindI64, KindF64:
			size = 8
		case KindBytes:
			if spec.Size <= 0 {
				return nil, fmt.Errorf("%w: %s.%s", ErrSchemaBadFieldSize, name, spec.Name)
			}
			size = spec.Size
		default:
			return nil, fmt.Errorf("%w: %s.%s", ErrSchemaUnknownKind, name, spec.Name)
		}

		s.byName[spec.Name] = len(s.fields)
		s.fields = append(s.fields, Field{
			ID:     uint16(i + 1),
			Name:   spec.Name,
			Kind:   spec.Kind,
			Offset: s.size,
			Size:   size,
		})
		s.size += size
	}

	return s, nil
}

// MustSchema is NewSchema that panics on error, for static declarations.
func MustSchema(name string, specs ...FieldSpec) *Schema {
	s, err := NewSchema(name, specs...)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the schema name records and files refer to.
func (s *Schema) Name() string { return s.name }

// Size returns the total byte width of a value of this schema.
func (s *Schema) Size() int { return s.size }

// Fields returns the ordered field list.
func (s *Schema) Fields() []Field { return s.fields }

// FieldByName returns the field declared under name.
func (s *Schema) FieldByName(name string) (Field, bool) {
	if i, ok := s.byName[name]; ok {
		return s.fields[i], true
	}
	return Field{}, false
}
