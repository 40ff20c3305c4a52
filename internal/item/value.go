package item

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

// Value is a typed payload blob: a schema plus the raw bytes laid out per
// that schema. The zero Value is "no payload" and is valid to copy and
// compare. Whether the byte slice is owned or a view into a shared store
// depends on the producer; Clone always detaches.
type Value struct {
	schema *Schema
	data   []byte
}

// MakeValue allocates a zeroed value of the given schema.
func MakeValue(schema *Schema) Value {
	if schema == nil {
		return Value{}
	}
	return Value{schema: schema, data: make([]byte, schema.Size())}
}

// ViewValue wraps existing bytes without copying. The caller guarantees the
// slice length matches the schema size.
func ViewValue(schema *Schema, data []byte) Value {
	if schema == nil || len(data) != schema.Size() {
		return Value{}
	}
	return Value{schema: schema, data: data}
}

// IsValid reports whether the value carries a payload.
func (v Value) IsValid() bool { return v.schema != nil }

// Schema returns the value's schema, nil for the empty value.
func (v Value) Schema() *Schema { return v.schema }

// Bytes exposes the raw backing bytes. Mutating them mutates the value.
func (v Value) Bytes() []byte { return v.data }

// Clone returns a detached copy of the value.
func (v Value) Clone() Value {
	if !v.IsValid() {
		return Value{}
	}
	return Value{schema: v.schema, data: bytes.Clone(v.data)}
}

// Reset clears the value to "no payload".
func (v *Value) Reset() {
	v.schema = nil
	v.data = nil
}

// Equal reports whether both values share the same schema and bytes.
// Two empty values are equal; values of different schemas never are.
func (v Value) Equal(other Value) bool {
	if v.schema != other.schema {
		return false
	}
	return !v.IsValid() || bytes.Equal(v.data, other.data)
}

// FieldBytes returns the byte range backing one field.
func (v Value) FieldBytes(f Field) []byte {
	return v.data[f.Offset : f.Offset+f.Size]
}

// FieldEqual compares one field's byte range across two values of the same
// schema.
func (v Value) FieldEqual(other Value, f Field) bool {
	return bytes.Equal(v.FieldBytes(f), other.FieldBytes(f))
}

// CopyField overwrites one field from another value of the same schema.
func (v Value) CopyField(from Value, f Field) {
	copy(v.FieldBytes(f), from.FieldBytes(f))
}

// CopyFrom overwrites the whole value in place from another value of the
// same schema. Reports false on schema mismatch.
func (v Value) CopyFrom(from Value) bool {
	if v.schema == nil || v.schema != from.schema {
		return false
	}
	copy(v.data, from.data)
	return true
}

// U32 reads a KindU32 field.
func (v Value) U32(f Field) uint32 {
	return binary.LittleEndian.Uint32(v.FieldBytes(f))
}

// SetU32 writes a KindU32 field.
func (v Value) SetU32(f Field, x uint32) {
	binary.LittleEndian.PutUint32(v.FieldBytes(f), x)
}

// I64 reads a KindI64 field.
func (v Value) I64(f Field) int64 {
	return int64(binary.LittleEndian.Uint64(v.FieldBytes(f)))
}

// SetI64 writes a KindI64 field.
func (v Value) SetI64(f Field, x int64) {
	binary.LittleEndian.PutUint64(v.FieldBytes(f), uint64(x))
}

// F64 reads a KindF64 field.
func (v Value) F64(f Field) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(v.FieldBytes(f)))
}

// SetF64 writes a KindF64 field.
func (v Value) SetF64(f Field, x float64) {
	binary.LittleEndian.PutUint64(v.FieldBytes(f), math.Float64bits(x))
}

// Export returns a canonical textual form used for checksum input.
// The empty value exports as the empty string.
func (v Value) Export() string {
	if !v.IsValid() {
		return ""
	}
	return v.schema.Name() + "|" + hex.EncodeToString(v.data)
}

func (v Value) String() string {
	if !v.IsValid() {
		return "<none>"
	}
	return fmt.Sprintf("%s(%d bytes)", v.schema.Name(), len(v.data))
}
