// Package transfer implements the Hotline file transfer sub-protocol: the
// FILP fork container, resume data, upload parsing, download chunk
// production and the registry that pairs transfer connections with the
// requests that created them.
package transfer

import (
	"encoding/binary"
	"time"

	"github.com/phxd-project/phxd/internal/protocol"
)

// Structure sizes.
const (
	FILPHeaderSize = 24
	ForkHeaderSize = 16

	// infoFixedSize is the INFO fork size without the name bytes.
	infoFixedSize = 74

	// ReadSize is the download chunk size.
	ReadSize = 1 << 14
)

// Fork and platform codes.
var (
	CodeFILP = protocol.CharConst("FILP")
	ForkINFO = protocol.CharConst("INFO")
	ForkDATA = protocol.CharConst("DATA")
	ForkMACR = protocol.CharConst("MACR")
	CodeAMAC = protocol.CharConst("AMAC")
	CodeRFLT = protocol.CharConst("RFLT")

	// UnknownCode is used for missing type and creator codes.
	UnknownCode = protocol.CharConst("????")
)

// FILPHeader opens a flattened file.
type FILPHeader struct {
	Version   uint16
	ForkCount uint16
}

// MarshalBinary encodes the 24-byte header. Reserved fields are zero.
func (h FILPHeader) MarshalBinary() ([]byte, error) {
	return protocol.NewBuilder().
		WriteUint32(CodeFILP).
		WriteUint16(h.Version).
		WriteZeros(16).
		WriteUint16(h.ForkCount).
		Build(), nil
}

func parseFILPHeader(b []byte) FILPHeader {
	return FILPHeader{
		Version:   binary.BigEndian.Uint16(b[4:6]),
		ForkCount: binary.BigEndian.Uint16(b[22:24]),
	}
}

// ForkHeader precedes each fork payload.
type ForkHeader struct {
	Type uint32
	Size uint32
}

// MarshalBinary encodes the 16-byte fork header. Reserved fields are zero.
func (h ForkHeader) MarshalBinary() ([]byte, error) {
	return protocol.NewBuilder().
		WriteUint32(h.Type).
		WriteZeros(8).
		WriteUint32(h.Size).
		Build(), nil
}

func parseForkHeader(b []byte) ForkHeader {
	return ForkHeader{
		Type: binary.BigEndian.Uint32(b[0:4]),
		Size: binary.BigEndian.Uint32(b[12:16]),
	}
}

// FileInfo is the metadata carried by the INFO fork.
type FileInfo struct {
	Type     uint32
	Creator  uint32
	Name     string
	Comment  string
	Created  time.Time
	Modified time.Time
}

// MarshalBinary encodes the INFO fork payload: platform, type, creator,
// flags, 32 reserved bytes, two dates, then the name and comment.
func (fi FileInfo) MarshalBinary() ([]byte, error) {
	name := []byte(fi.Name)
	comment := []byte(fi.Comment)
	if len(name) > 0xFFFF {
		name = name[:0xFFFF]
	}
	if len(comment) > 0xFFFF {
		comment = comment[:0xFFFF]
	}
	b := protocol.NewBuilder().
		WriteUint32(CodeAMAC).
		WriteUint32(orUnknown(fi.Type)).
		WriteUint32(orUnknown(fi.Creator)).
		WriteUint32(0).
		WriteUint32(0).
		WriteZeros(32).
		WriteBytes(infoDate(fi.Created)).
		WriteBytes(infoDate(fi.Modified)).
		WriteUint16(0).
		WriteUint16(uint16(len(name))).
		WriteBytes(name).
		WriteUint16(uint16(len(comment))).
		WriteBytes(comment)
	return b.Build(), nil
}

// ParseFileInfo decodes an INFO fork payload. Truncated input yields
// whatever fields were complete.
func ParseFileInfo(b []byte) FileInfo {
	var fi FileInfo
	if len(b) < 12 {
		return fi
	}
	fi.Type = binary.BigEndian.Uint32(b[4:8])
	fi.Creator = binary.BigEndian.Uint32(b[8:12])
	if len(b) < 72 {
		return fi
	}
	if t, ok := protocol.DecodeDate(b[52:60]); ok && binary.BigEndian.Uint32(b[56:60]) != 0 {
		fi.Created = t
	}
	if t, ok := protocol.DecodeDate(b[60:68]); ok && binary.BigEndian.Uint32(b[64:68]) != 0 {
		fi.Modified = t
	}
	nameLen := int(binary.BigEndian.Uint16(b[70:72]))
	pos := 72
	if len(b) < pos+nameLen {
		return fi
	}
	fi.Name = protocol.DecodeString(b[pos : pos+nameLen])
	pos += nameLen
	if len(b) < pos+2 {
		return fi
	}
	commentLen := int(binary.BigEndian.Uint16(b[pos : pos+2]))
	pos += 2
	if len(b) < pos+commentLen {
		return fi
	}
	fi.Comment = protocol.DecodeString(b[pos : pos+commentLen])
	return fi
}

func infoDate(t time.Time) []byte {
	if t.IsZero() {
		return make([]byte, 8)
	}
	return protocol.EncodeDate(t)
}

func orUnknown(code uint32) uint32 {
	if code == 0 {
		return UnknownCode
	}
	return code
}
