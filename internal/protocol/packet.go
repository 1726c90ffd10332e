package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// PacketHeaderSize is type(4) seq(4) flags(4) size(4) checksum(4).
const PacketHeaderSize = 20

// FlagError marks a task reply as an error.
const FlagError uint32 = 1

// Packet is a container with a transaction header. A zero Seq means no
// reply is expected; replies carry the request's Seq.
type Packet struct {
	Kind  uint32
	Seq   uint32
	Flags uint32
	Container
}

// NewPacket creates an empty packet of the given kind.
func NewPacket(kind uint32) *Packet {
	return &Packet{Kind: kind}
}

// Response builds an empty task reply correlated with p.
func (p *Packet) Response() *Packet {
	return &Packet{Kind: TypeTaskReply, Seq: p.Seq}
}

// Error builds an error-flagged task reply carrying msg.
func (p *Packet) Error(msg string) *Packet {
	reply := &Packet{Kind: TypeTaskReply, Seq: p.Seq, Flags: FlagError}
	reply.AddString(DataError, msg)
	return reply
}

// IsError reports whether the error flag is set.
func (p *Packet) IsError() bool {
	return p.Flags&FlagError != 0
}

// MarshalBinary encodes the header followed by the container body. Size and
// checksum both carry the body length.
func (p *Packet) MarshalBinary() ([]byte, error) {
	bodyLen := p.Container.Size()
	b := make([]byte, PacketHeaderSize, PacketHeaderSize+bodyLen)
	binary.BigEndian.PutUint32(b[0:4], p.Kind)
	binary.BigEndian.PutUint32(b[4:8], p.Seq)
	binary.BigEndian.PutUint32(b[8:12], p.Flags)
	binary.BigEndian.PutUint32(b[12:16], uint32(bodyLen))
	binary.BigEndian.PutUint32(b[16:20], uint32(bodyLen))
	b, err := p.Container.AppendBinary(b)
	if err != nil {
		return nil, fmt.Errorf("packet %d: %w", p.Kind, err)
	}
	return b, nil
}

// DeclaredBodySize returns the body size announced by the header at the
// front of buf. ok is false until the whole header is buffered.
func DeclaredBodySize(buf []byte) (size uint32, ok bool) {
	if len(buf) < PacketHeaderSize {
		return 0, false
	}
	return binary.BigEndian.Uint32(buf[12:16]), true
}

// ParsePacket extracts one packet from the front of buf. It returns
// ErrIncomplete and zero consumed bytes until the header and the full body
// are buffered. The checksum field is not verified.
func ParsePacket(buf []byte) (*Packet, int, error) {
	size, ok := DeclaredBodySize(buf)
	if !ok {
		return nil, 0, ErrIncomplete
	}
	if uint64(len(buf)-PacketHeaderSize) < uint64(size) {
		return nil, 0, ErrIncomplete
	}
	total := PacketHeaderSize + int(size)
	p := &Packet{
		Kind:  binary.BigEndian.Uint32(buf[0:4]),
		Seq:   binary.BigEndian.Uint32(buf[4:8]),
		Flags: binary.BigEndian.Uint32(buf[8:12]),
	}
	if size >= 2 {
		body, _, err := DecodeContainer(buf[PacketHeaderSize:total])
		if err != nil {
			return nil, total, fmt.Errorf("packet %d body: %w", p.Kind, ErrMalformed)
		}
		p.Container = *body
	}
	return p, total, nil
}

// String describes the packet for logging.
func (p *Packet) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Packet[type=%d seq=%d flags=%d objects=%d]", p.Kind, p.Seq, p.Flags, p.Count())
	for _, o := range p.Objects() {
		fmt.Fprintf(&sb, " %d:%d", o.Kind, len(o.Data))
	}
	return sb.String()
}
