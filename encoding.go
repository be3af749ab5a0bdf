package umbradb

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Wire form of a value: one type tag byte followed by the payload. Integers
// and floats are 8 bytes big-endian, booleans 1 byte, text and blobs carry a
// 4-byte length prefix.

// EncodeValue serializes a value to its wire form.
func EncodeValue(v Value) []byte {
	return appendValue(nil, v)
}

func appendValue(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.Type))
	switch v.Type {
	case TypeInt:
		buf = appendUint64(buf, uint64(v.Int))
	case TypeFloat:
		buf = appendUint64(buf, math.Float64bits(v.Float))
	case TypeText:
		buf = appendUint32(buf, uint32(len(v.Str)))
		buf = append(buf, v.Str...)
	case TypeBool:
		if v.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case TypeBlob:
		buf = appendUint32(buf, uint32(len(v.Bytes)))
		buf = append(buf, v.Bytes...)
	default:
		panic(fmt.Sprintf("cannot encode value of type %d", uint8(v.Type)))
	}
	return buf
}

// DecodeValue deserializes a value from its wire form. It fails with
// ErrCorruptData on an unrecognized tag, ErrTruncated on missing payload
// bytes, and ErrCorruptData if trailing bytes remain.
func DecodeValue(buf []byte) (Value, error) {
	v, n, err := decodeValue(buf)
	if err != nil {
		return Value{}, err
	}
	if n != len(buf) {
		return Value{}, fmt.Errorf("%d trailing bytes after value: %w", len(buf)-n, ErrCorruptData)
	}
	return v, nil
}

// decodeValue reads one value from the front of buf and returns the number
// of bytes consumed.
func decodeValue(buf []byte) (Value, int, error) {
	if len(buf) == 0 {
		return Value{}, 0, fmt.Errorf("empty value: %w", ErrTruncated)
	}
	tag := ValueType(buf[0])
	rest := buf[1:]
	switch tag {
	case TypeInt:
		if len(rest) < 8 {
			return Value{}, 0, fmt.Errorf("integer payload: %w", ErrTruncated)
		}
		return NewIntValue(int64(binary.BigEndian.Uint64(rest))), 9, nil
	case TypeFloat:
		if len(rest) < 8 {
			return Value{}, 0, fmt.Errorf("float payload: %w", ErrTruncated)
		}
		return NewFloatValue(math.Float64frombits(binary.BigEndian.Uint64(rest))), 9, nil
	case TypeText:
		s, n, err := decodeBytes(rest)
		if err != nil {
			return Value{}, 0, fmt.Errorf("text payload: %w", err)
		}
		return NewTextValue(string(s)), 1 + n, nil
	case TypeBool:
		if len(rest) < 1 {
			return Value{}, 0, fmt.Errorf("boolean payload: %w", ErrTruncated)
		}
		switch rest[0] {
		case 0:
			return NewBoolValue(false), 2, nil
		case 1:
			return NewBoolValue(true), 2, nil
		default:
			return Value{}, 0, fmt.Errorf("boolean payload byte %d: %w", rest[0], ErrCorruptData)
		}
	case TypeBlob:
		b, n, err := decodeBytes(rest)
		if err != nil {
			return Value{}, 0, fmt.Errorf("blob payload: %w", err)
		}
		blob := make([]byte, len(b))
		copy(blob, b)
		return NewBlobValue(blob), 1 + n, nil
	default:
		return Value{}, 0, fmt.Errorf("unrecognized value tag %d: %w", buf[0], ErrCorruptData)
	}
}

// decodeBytes reads a 4-byte length prefix followed by that many bytes. The
// returned slice aliases buf.
func decodeBytes(buf []byte) ([]byte, int, error) {
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("length prefix: %w", ErrTruncated)
	}
	n := int(binary.BigEndian.Uint32(buf))
	if len(buf) < 4+n {
		return nil, 0, fmt.Errorf("want %d bytes, have %d: %w", n, len(buf)-4, ErrTruncated)
	}
	return buf[4 : 4+n], 4 + n, nil
}

// ValidateValue checks that a value's variant matches the declared column
// type and fails with ErrTypeMismatch otherwise.
func ValidateValue(v Value, ct ColumnType) error {
	if !v.Type.valid() {
		return fmt.Errorf("invalid value type %d: %w", uint8(v.Type), ErrTypeMismatch)
	}
	if v.Type != ct {
		return fmt.Errorf("value is %s, column wants %s: %w", v.Type, ct, ErrTypeMismatch)
	}
	return nil
}

// KeyOf derives the canonical key of a value. The encoding is strictly
// order-preserving: for two values of the same type, bytes.Compare on their
// keys matches the values' natural order. Integers get their sign bit
// flipped so negatives sort below positives; floats use the standard
// IEEE-754 total-order transform (flip all bits when negative, flip only
// the sign bit otherwise).
func KeyOf(v Value) Key {
	switch v.Type {
	case TypeInt:
		return appendUint64(nil, uint64(v.Int)^(1<<63))
	case TypeFloat:
		bits := math.Float64bits(v.Float)
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		return appendUint64(nil, bits)
	case TypeText:
		return Key(v.Str)
	case TypeBool:
		if v.Bool {
			return Key{1}
		}
		return Key{0}
	case TypeBlob:
		return Key(v.Bytes).Clone()
	default:
		panic(fmt.Sprintf("cannot derive key from value of type %d", uint8(v.Type)))
	}
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendUint16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}
