package umbradb

import (
	"bytes"
	"fmt"
)

// ValueType identifies which variant a Value holds. Column types use the
// same tags, so a column declaration and a value can be compared directly.
type ValueType uint8

const (
	TypeInt ValueType = iota + 1
	TypeFloat
	TypeText
	TypeBool
	TypeBlob
)

// ColumnType is the declared type of a table column.
type ColumnType = ValueType

// String returns the type name used in error messages and schema dumps.
func (t ValueType) String() string {
	switch t {
	case TypeInt:
		return "INT"
	case TypeFloat:
		return "FLOAT"
	case TypeText:
		return "TEXT"
	case TypeBool:
		return "BOOL"
	case TypeBlob:
		return "BLOB"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

func (t ValueType) valid() bool {
	return t >= TypeInt && t <= TypeBlob
}

// Value is a single typed cell. It is a closed tagged union: exactly one of
// the payload fields is meaningful, selected by Type. Use the NewXxxValue
// constructors rather than building Values by hand.
type Value struct {
	Type  ValueType
	Int   int64
	Float float64
	Str   string
	Bool  bool
	Bytes []byte
}

// NewIntValue creates an integer value.
func NewIntValue(v int64) Value {
	return Value{Type: TypeInt, Int: v}
}

// NewFloatValue creates a floating-point value.
func NewFloatValue(v float64) Value {
	return Value{Type: TypeFloat, Float: v}
}

// NewTextValue creates a text value.
func NewTextValue(v string) Value {
	return Value{Type: TypeText, Str: v}
}

// NewBoolValue creates a boolean value.
func NewBoolValue(v bool) Value {
	return Value{Type: TypeBool, Bool: v}
}

// NewBlobValue creates a binary value. The byte slice is not copied.
func NewBlobValue(v []byte) Value {
	return Value{Type: TypeBlob, Bytes: v}
}

// String formats the value for display.
func (v Value) String() string {
	switch v.Type {
	case TypeInt:
		return fmt.Sprintf("%d", v.Int)
	case TypeFloat:
		return fmt.Sprintf("%g", v.Float)
	case TypeText:
		return fmt.Sprintf("%q", v.Str)
	case TypeBool:
		return fmt.Sprintf("%t", v.Bool)
	case TypeBlob:
		return fmt.Sprintf("<BLOB: %d bytes>", len(v.Bytes))
	default:
		return fmt.Sprintf("<invalid value type %d>", uint8(v.Type))
	}
}

// Equal reports whether two values have the same type and payload.
func (v Value) Equal(other Value) bool {
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case TypeInt:
		return v.Int == other.Int
	case TypeFloat:
		return v.Float == other.Float
	case TypeText:
		return v.Str == other.Str
	case TypeBool:
		return v.Bool == other.Bool
	case TypeBlob:
		return bytes.Equal(v.Bytes, other.Bytes)
	default:
		return false
	}
}

// Column defines one field of a table schema.
type Column struct {
	Name string
	Type ColumnType
}

// Row is a positional tuple of values matching the owning table's columns.
type Row []Value

// Clone returns a copy of the row. Blob payloads are copied too, so the
// clone is safe to hand out across later mutations.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	for i, v := range out {
		if v.Type == TypeBlob && v.Bytes != nil {
			b := make([]byte, len(v.Bytes))
			copy(b, v.Bytes)
			out[i].Bytes = b
		}
	}
	return out
}

// Equal reports whether two rows are the same length with equal values.
func (r Row) Equal(other Row) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if !r[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// Key is a byte-comparable row identifier. Keys compare with bytes.Compare
// and that order matches the natural order of the value they were derived
// from (see KeyOf).
type Key []byte

// Compare orders two keys bytewise.
func (k Key) Compare(other Key) int {
	return bytes.Compare(k, other)
}

// Equal reports whether two keys are identical.
func (k Key) Equal(other Key) bool {
	return bytes.Equal(k, other)
}

// Clone returns a copy of the key.
func (k Key) Clone() Key {
	out := make(Key, len(k))
	copy(out, k)
	return out
}

// String formats the key as hex for diagnostics.
func (k Key) String() string {
	return fmt.Sprintf("%x", []byte(k))
}
