package protocol

import (
	"encoding/binary"
	"fmt"
)

// Magic sizes.
const (
	ClientMagicLen   = 12
	ServerMagicLen   = 8
	TransferMagicLen = 16
)

// Protocol identifiers.
var (
	ProtoTRTP = CharConst("TRTP")
	ProtoHOTL = CharConst("HOTL")
	ProtoHTXF = CharConst("HTXF")
)

// Default client protocol version.
const (
	VersionMajor uint16 = 1
	VersionMinor uint16 = 2
)

// ClientMagic is the 12-byte prologue a client sends when it connects.
type ClientMagic struct {
	Proto    uint32
	SubProto uint32
	Major    uint16
	Minor    uint16
}

// DefaultClientMagic returns TRTP/HOTL version 1.2.
func DefaultClientMagic() ClientMagic {
	return ClientMagic{Proto: ProtoTRTP, SubProto: ProtoHOTL, Major: VersionMajor, Minor: VersionMinor}
}

// Valid reports whether the magic names the Hotline protocol.
func (m ClientMagic) Valid() bool {
	return m.Proto == ProtoTRTP && m.SubProto == ProtoHOTL
}

// MarshalBinary encodes the magic.
func (m ClientMagic) MarshalBinary() ([]byte, error) {
	return NewBuilder().
		WriteUint32(m.Proto).
		WriteUint32(m.SubProto).
		WriteUint16(m.Major).
		WriteUint16(m.Minor).
		Build(), nil
}

// ParseClientMagic decodes a client prologue.
func ParseClientMagic(b []byte) (ClientMagic, error) {
	if len(b) < ClientMagicLen {
		return ClientMagic{}, ErrIncomplete
	}
	return ClientMagic{
		Proto:    binary.BigEndian.Uint32(b[0:4]),
		SubProto: binary.BigEndian.Uint32(b[4:8]),
		Major:    binary.BigEndian.Uint16(b[8:10]),
		Minor:    binary.BigEndian.Uint16(b[10:12]),
	}, nil
}

// ServerMagic is the 8-byte prologue the server answers with.
type ServerMagic struct {
	Proto uint32
	Code  uint32
}

// Valid reports whether the server accepted the connection.
func (m ServerMagic) Valid() bool {
	return m.Proto == ProtoTRTP && m.Code == 0
}

// MarshalBinary encodes the magic.
func (m ServerMagic) MarshalBinary() ([]byte, error) {
	return NewBuilder().WriteUint32(m.Proto).WriteUint32(m.Code).Build(), nil
}

// ParseServerMagic decodes a server prologue.
func ParseServerMagic(b []byte) (ServerMagic, error) {
	if len(b) < ServerMagicLen {
		return ServerMagic{}, ErrIncomplete
	}
	return ServerMagic{
		Proto: binary.BigEndian.Uint32(b[0:4]),
		Code:  binary.BigEndian.Uint32(b[4:8]),
	}, nil
}

// TransferMagic opens a file transfer connection.
type TransferMagic struct {
	Proto uint32
	ID    uint32
	Size  uint32
	Flags uint32
}

// Valid reports whether the magic names the transfer protocol.
func (m TransferMagic) Valid() bool {
	return m.Proto == ProtoHTXF
}

// MarshalBinary encodes the magic.
func (m TransferMagic) MarshalBinary() ([]byte, error) {
	return NewBuilder().
		WriteUint32(m.Proto).
		WriteUint32(m.ID).
		WriteUint32(m.Size).
		WriteUint32(m.Flags).
		Build(), nil
}

// ParseTransferMagic decodes a transfer prologue.
func ParseTransferMagic(b []byte) (TransferMagic, error) {
	if len(b) < TransferMagicLen {
		return TransferMagic{}, ErrIncomplete
	}
	return TransferMagic{
		Proto: binary.BigEndian.Uint32(b[0:4]),
		ID:    binary.BigEndian.Uint32(b[4:8]),
		Size:  binary.BigEndian.Uint32(b[8:12]),
		Flags: binary.BigEndian.Uint32(b[12:16]),
	}, nil
}

// String describes the magic for logging.
func (m TransferMagic) String() string {
	return fmt.Sprintf("%s id=%d size=%d flags=%d", CodeString(m.Proto), m.ID, m.Size, m.Flags)
}
