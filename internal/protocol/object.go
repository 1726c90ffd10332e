package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Codec errors.
var (
	// ErrIncomplete means more bytes are needed before anything can be consumed.
	ErrIncomplete = errors.New("protocol: incomplete data")

	// ErrMalformed means the declared sizes of a fully buffered structure disagree.
	ErrMalformed = errors.New("protocol: malformed data")

	// ErrObjectTooLarge is returned when encoding a payload that does not fit the 16-bit length field.
	ErrObjectTooLarge = errors.New("protocol: object payload exceeds 65535 bytes")

	// ErrNumberOverflow is returned when a number does not fit the requested width.
	ErrNumberOverflow = errors.New("protocol: number overflows field width")
)

const (
	// ObjectHeaderSize is kind(2) + length(2).
	ObjectHeaderSize = 4

	// MaxObjectSize is the largest payload the length field can describe.
	MaxObjectSize = 0xFFFF
)

// Object is a single tagged value inside a container.
type Object struct {
	Kind uint16
	Data []byte
}

// Len returns the encoded size of the object.
func (o Object) Len() int {
	return ObjectHeaderSize + len(o.Data)
}

// MarshalBinary encodes the object as kind, length and payload.
func (o Object) MarshalBinary() ([]byte, error) {
	return o.AppendBinary(make([]byte, 0, o.Len()))
}

// AppendBinary appends the encoded object to b.
func (o Object) AppendBinary(b []byte) ([]byte, error) {
	if len(o.Data) > MaxObjectSize {
		return b, fmt.Errorf("kind %d, %d bytes: %w", o.Kind, len(o.Data), ErrObjectTooLarge)
	}
	b = binary.BigEndian.AppendUint16(b, o.Kind)
	b = binary.BigEndian.AppendUint16(b, uint16(len(o.Data)))
	return append(b, o.Data...), nil
}

// Number interprets the payload as a big-endian unsigned integer.
// Only 2, 4 and 8 byte payloads are numbers.
func (o Object) Number() (uint64, bool) {
	switch len(o.Data) {
	case 2:
		return uint64(binary.BigEndian.Uint16(o.Data)), true
	case 4:
		return uint64(binary.BigEndian.Uint32(o.Data)), true
	case 8:
		return binary.BigEndian.Uint64(o.Data), true
	}
	return 0, false
}

// DecodeObject reads one object from the front of buf. The payload is copied.
func DecodeObject(buf []byte) (Object, int, error) {
	if len(buf) < ObjectHeaderSize {
		return Object{}, 0, ErrIncomplete
	}
	kind := binary.BigEndian.Uint16(buf[0:2])
	size := int(binary.BigEndian.Uint16(buf[2:4]))
	if len(buf)-ObjectHeaderSize < size {
		return Object{}, 0, ErrIncomplete
	}
	data := make([]byte, size)
	copy(data, buf[ObjectHeaderSize:ObjectHeaderSize+size])
	return Object{Kind: kind, Data: data}, ObjectHeaderSize + size, nil
}

// encodeNumber packs v into exactly bits/8 bytes.
func encodeNumber(v uint64, bits int) ([]byte, error) {
	switch bits {
	case 16:
		if v > 0xFFFF {
			return nil, ErrNumberOverflow
		}
		return binary.BigEndian.AppendUint16(nil, uint16(v)), nil
	case 32:
		if v > 0xFFFFFFFF {
			return nil, ErrNumberOverflow
		}
		return binary.BigEndian.AppendUint32(nil, uint32(v)), nil
	case 64:
		return binary.BigEndian.AppendUint64(nil, v), nil
	}
	return nil, fmt.Errorf("protocol: unsupported number width %d", bits)
}

// numberBits returns the smallest of 16, 32 and 64 that holds v.
func numberBits(v uint64) int {
	switch {
	case v <= 0xFFFF:
		return 16
	case v <= 0xFFFFFFFF:
		return 32
	}
	return 64
}
