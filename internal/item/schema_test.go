package item

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mkStatsSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema("Stats",
		FieldSpec{Name: "damage", Kind: KindU32},
		FieldSpec{Name: "weight", Kind: KindF64},
		FieldSpec{Name: "durability", Kind: KindI64},
		FieldSpec{Name: "seed", Kind: KindBytes, Size: 4},
	)
	require.NoError(t, err)
	return s
}

func TestNewSchema_Layout(t *testing.T) {
	s := mkStatsSchema(t)

	require.Equal(t, "Stats", s.Name())
	require.Equal(t, 4+8+8+4, s.Size())

	fields := s.Fields()
	require.Len(t, fields, 4)
	require.Equal(t, uint16(1), fields[0].ID)
	require.Equal(t, 0, fields[0].Offset)
	require.Equal(t, 4, fields[1].Offset)
	require.Equal(t, 12, fields[2].Offset)
	require.Equal(t, 20, fields[3].Offset)

	f, ok := s.FieldByName("weight")
	require.True(t, ok)
	require.Equal(t, KindF64, f.Kind)

	_, ok = s.FieldByName("missing")
	require.False(t, ok)
}

func TestNewSchema_Errors(t *testing.T) {
	_, err := NewSchema("Empty")
	require.ErrorIs(t, err, ErrSchemaNoFields)

	_, err = NewSchema("Dup",
		FieldSpec{Name: "x", Kind: KindU32},
		FieldSpec{Name: "x", Kind: KindU32},
	)
	require.ErrorIs(t, err, ErrSchemaDuplicateField)

	_, err = NewSchema("Bytes", FieldSpec{Name: "b", Kind: KindBytes})
	require.ErrorIs(t, err, ErrSchemaBadFieldSize)

	_, err = NewSchema("Bad", FieldSpec{Name: "z", Kind: Kind(99)})
	require.ErrorIs(t, err, ErrSchemaUnknownKind)
}

func TestValue_FieldAccess(t *testing.T) {
	s := mkStatsSchema(t)
	v := MakeValue(s)

	damage, _ := s.FieldByName("damage")
	weight, _ := s.FieldByName("weight")
	durability, _ := s.FieldByName("durability")

	v.SetU32(damage, 42)
	v.SetF64(weight, 1.5)
	v.SetI64(durability, -7)

	require.Equal(t, uint32(42), v.U32(damage))
	require.Equal(t, 1.5, v.F64(weight))
	require.Equal(t, int64(-7), v.I64(durability))
}

func TestValue_Equality(t *testing.T) {
	s := mkStatsSchema(t)
	damage, _ := s.FieldByName("damage")

	a := MakeValue(s)
	b := MakeValue(s)
	require.True(t, a.Equal(b))

	b.SetU32(damage, 9)
	require.False(t, a.Equal(b))
	require.False(t, a.FieldEqual(b, damage))

	a.CopyField(b, damage)
	require.True(t, a.Equal(b))

	// Different schema, same layout: never equal.
	other, err := NewSchema("Stats2",
		FieldSpec{Name: "damage", Kind: KindU32},
		FieldSpec{Name: "weight", Kind: KindF64},
		FieldSpec{Name: "durability", Kind: KindI64},
		FieldSpec{Name: "seed", Kind: KindBytes, Size: 4},
	)
	require.NoError(t, err)
	require.False(t, a.Equal(MakeValue(other)))

	// Empty values compare equal to each other only.
	require.True(t, Value{}.Equal(Value{}))
	require.False(t, a.Equal(Value{}))
}

func TestValue_CloneDetaches(t *testing.T) {
	s := mkStatsSchema(t)
	damage, _ := s.FieldByName("damage")

	a := MakeValue(s)
	a.SetU32(damage, 1)

	b := a.Clone()
	b.SetU32(damage, 2)

	require.Equal(t, uint32(1), a.U32(damage))
	require.Equal(t, uint32(2), b.U32(damage))
}

func TestSchemaRegistry(t *testing.T) {
	reg := NewSchemaRegistry()
	s := mkStatsSchema(t)

	require.NoError(t, reg.Register(s))
	require.NoError(t, reg.Register(s), "same pointer is idempotent")

	clone := mkStatsSchema(t)
	require.ErrorIs(t, reg.Register(clone), ErrSchemaDuplicate)
	require.ErrorIs(t, reg.Register(nil), ErrSchemaNil)

	got, ok := reg.Lookup("Stats")
	require.True(t, ok)
	require.Same(t, s, got)

	_, ok = reg.Lookup("Nope")
	require.False(t, ok)

	require.Equal(t, []string{"Stats"}, reg.Names())
}
