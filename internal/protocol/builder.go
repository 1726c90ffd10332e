package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Builder assembles fixed-layout binary structures in network byte order.
type Builder struct {
	buf bytes.Buffer
}

// NewBuilder creates a new Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.buf.Reset()
}

// WriteUint8 writes a single byte.
func (b *Builder) WriteUint8(v uint8) *Builder {
	b.buf.WriteByte(v)
	return b
}

// WriteUint16 writes a uint16 in big-endian order.
func (b *Builder) WriteUint16(v uint16) *Builder {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

// WriteUint32 writes a uint32 in big-endian order.
func (b *Builder) WriteUint32(v uint32) *Builder {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

// WriteUint64 writes a uint64 in big-endian order.
func (b *Builder) WriteUint64(v uint64) *Builder {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

// WriteCode writes a four character code such as "FILP".
func (b *Builder) WriteCode(code string) *Builder {
	return b.WriteUint32(CharConst(code))
}

// WritePString writes a string prefixed with a one byte length.
// Format: [length:1][string bytes...]
func (b *Builder) WritePString(s string) *Builder {
	data := []byte(s)
	if len(data) > 255 {
		data = data[:255]
	}
	b.buf.WriteByte(byte(len(data)))
	b.buf.Write(data)
	return b
}

// WriteZeros writes n zero bytes.
func (b *Builder) WriteZeros(n int) *Builder {
	b.buf.Write(make([]byte, n))
	return b
}

// WriteBytes writes raw bytes.
func (b *Builder) WriteBytes(data []byte) *Builder {
	b.buf.Write(data)
	return b
}

// Build returns the constructed bytes.
func (b *Builder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the current size of the structure being built.
func (b *Builder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current contents for debugging.
func (b *Builder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("Builder[%d bytes]: %x", len(data), data)
}

// CharConst packs a four character code into its numeric form.
func CharConst(code string) uint32 {
	var v uint32
	for i := 0; i < 4; i++ {
		v <<= 8
		if i < len(code) {
			v |= uint32(code[i])
		}
	}
	return v
}

// CodeString unpacks a numeric four character code.
func CodeString(v uint32) string {
	return string([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
