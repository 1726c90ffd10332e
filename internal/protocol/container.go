package protocol

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// Container is an ordered list of objects. Lookups by kind return the first match.
type Container struct {
	objects []Object
}

// NewContainer creates an empty container.
func NewContainer() *Container {
	return &Container{}
}

// Objects returns every object in insertion order.
func (c *Container) Objects() []Object {
	return c.objects
}

// Count returns the number of objects.
func (c *Container) Count() int {
	return len(c.objects)
}

// AddObject appends an object.
func (c *Container) AddObject(o Object) *Container {
	c.objects = append(c.objects, o)
	return c
}

// Add appends a binary payload.
func (c *Container) Add(kind uint16, data []byte) *Container {
	return c.AddObject(Object{Kind: kind, Data: data})
}

// AddString appends s encoded as UTF-8.
func (c *Container) AddString(kind uint16, s string) *Container {
	return c.Add(kind, []byte(s))
}

// AddNumber appends v using the smallest of 16, 32 or 64 bits that can hold it.
func (c *Container) AddNumber(kind uint16, v uint64) *Container {
	data, _ := encodeNumber(v, numberBits(v))
	return c.Add(kind, data)
}

// AddNumberBits appends v with a pinned width of 16, 32 or 64 bits.
func (c *Container) AddNumberBits(kind uint16, v uint64, bits int) error {
	data, err := encodeNumber(v, bits)
	if err != nil {
		return fmt.Errorf("kind %d: %w", kind, err)
	}
	c.Add(kind, data)
	return nil
}

// AddBigNumber appends an arbitrary precision value. Negative values and
// values of 2^64 or more cannot be encoded.
func (c *Container) AddBigNumber(kind uint16, v *big.Int) error {
	if v.Sign() < 0 || !v.IsUint64() {
		return fmt.Errorf("kind %d, value %s: %w", kind, v, ErrNumberOverflow)
	}
	c.AddNumber(kind, v.Uint64())
	return nil
}

// AddContainer appends sub encoded as a nested container.
func (c *Container) AddContainer(kind uint16, sub *Container) error {
	data, err := sub.MarshalBinary()
	if err != nil {
		return err
	}
	c.Add(kind, data)
	return nil
}

// Get returns the first object of the given kind.
func (c *Container) Get(kind uint16) (Object, bool) {
	for _, o := range c.objects {
		if o.Kind == kind {
			return o, true
		}
	}
	return Object{}, false
}

// GetObjects returns every object of the given kind.
func (c *Container) GetObjects(kind uint16) []Object {
	var out []Object
	for _, o := range c.objects {
		if o.Kind == kind {
			out = append(out, o)
		}
	}
	return out
}

// Has reports whether any object of the given kind is present.
func (c *Container) Has(kind uint16) bool {
	_, ok := c.Get(kind)
	return ok
}

// Remove deletes the first object of the given kind.
func (c *Container) Remove(kind uint16) bool {
	for i, o := range c.objects {
		if o.Kind == kind {
			c.objects = append(c.objects[:i], c.objects[i+1:]...)
			return true
		}
	}
	return false
}

// GetNumber returns the first object of the given kind that holds a 2, 4 or 8
// byte number, or def.
func (c *Container) GetNumber(kind uint16, def uint64) uint64 {
	for _, o := range c.objects {
		if o.Kind != kind {
			continue
		}
		if v, ok := o.Number(); ok {
			return v
		}
	}
	return def
}

// GetString decodes the first non-empty object of the given kind. An empty
// payload counts as absent.
func (c *Container) GetString(kind uint16, def string) string {
	for _, o := range c.objects {
		if o.Kind == kind && len(o.Data) > 0 {
			return DecodeString(o.Data)
		}
	}
	return def
}

// GetBinary returns the first non-empty payload of the given kind, or def.
func (c *Container) GetBinary(kind uint16, def []byte) []byte {
	for _, o := range c.objects {
		if o.Kind == kind && len(o.Data) > 0 {
			return o.Data
		}
	}
	return def
}

// GetContainer decodes the first object of the given kind as a nested container.
func (c *Container) GetContainer(kind uint16) (*Container, bool) {
	o, ok := c.Get(kind)
	if !ok {
		return nil, false
	}
	sub, _, err := DecodeContainer(o.Data)
	if err != nil {
		return NewContainer(), true
	}
	return sub, true
}

// GetContainers decodes every object of the given kind as a nested container.
func (c *Container) GetContainers(kind uint16) []*Container {
	var out []*Container
	for _, o := range c.GetObjects(kind) {
		sub, _, err := DecodeContainer(o.Data)
		if err != nil {
			sub = NewContainer()
		}
		out = append(out, sub)
	}
	return out
}

// Size returns the encoded length including the count prefix.
func (c *Container) Size() int {
	n := 2
	for _, o := range c.objects {
		n += o.Len()
	}
	return n
}

// MarshalBinary encodes the count followed by every object.
func (c *Container) MarshalBinary() ([]byte, error) {
	return c.AppendBinary(make([]byte, 0, c.Size()))
}

// AppendBinary appends the encoded container to b.
func (c *Container) AppendBinary(b []byte) ([]byte, error) {
	if len(c.objects) > 0xFFFF {
		return b, fmt.Errorf("protocol: %d objects in one container", len(c.objects))
	}
	b = binary.BigEndian.AppendUint16(b, uint16(len(c.objects)))
	var err error
	for _, o := range c.objects {
		if b, err = o.AppendBinary(b); err != nil {
			return b, err
		}
	}
	return b, nil
}

// DecodeContainer reads a count-prefixed object list from the front of buf.
// When buf is too short it returns ErrIncomplete and consumes nothing.
func DecodeContainer(buf []byte) (*Container, int, error) {
	if len(buf) < 2 {
		return nil, 0, ErrIncomplete
	}
	count := int(binary.BigEndian.Uint16(buf[0:2]))
	pos := 2
	c := &Container{objects: make([]Object, 0, count)}
	for i := 0; i < count; i++ {
		o, n, err := DecodeObject(buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		c.objects = append(c.objects, o)
		pos += n
	}
	return c, pos, nil
}
