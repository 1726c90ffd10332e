package transfer

import (
	"encoding/binary"
	"sort"
	"strconv"

	"github.com/phxd-project/phxd/internal/protocol"
)

// resumeHeaderSize is format(4) version(2) reserved(34) count(2).
const resumeHeaderSize = 42

// ResumeData maps fork codes to the number of bytes the remote side
// already holds.
type ResumeData struct {
	offsets map[uint32]uint32
	order   []uint32
}

// NewResumeData creates an empty offset table.
func NewResumeData() *ResumeData {
	return &ResumeData{offsets: make(map[uint32]uint32)}
}

// ParseResumeData decodes an RFLT structure. Input shorter than the
// 42-byte header yields an empty table; truncated entries are skipped.
func ParseResumeData(b []byte) *ResumeData {
	r := NewResumeData()
	if len(b) < resumeHeaderSize {
		return r
	}
	count := int(binary.BigEndian.Uint16(b[40:42]))
	for k := 0; k < count; k++ {
		pos := resumeHeaderSize + 16*k
		if len(b) < pos+8 {
			break
		}
		r.SetOffset(binary.BigEndian.Uint32(b[pos:pos+4]), binary.BigEndian.Uint32(b[pos+4:pos+8]))
	}
	return r
}

// Offset returns the resume offset for a fork, zero when unknown.
func (r *ResumeData) Offset(fork uint32) uint32 {
	if r == nil {
		return 0
	}
	return r.offsets[fork]
}

// SetOffset records the resume offset for a fork.
func (r *ResumeData) SetOffset(fork, offset uint32) {
	if _, ok := r.offsets[fork]; !ok {
		r.order = append(r.order, fork)
	}
	r.offsets[fork] = offset
}

// TotalOffset sums the offsets of every fork.
func (r *ResumeData) TotalOffset() uint64 {
	if r == nil {
		return 0
	}
	var total uint64
	for _, v := range r.offsets {
		total += uint64(v)
	}
	return total
}

// Forks returns the known fork codes in the order they were added.
func (r *ResumeData) Forks() []uint32 {
	if r == nil {
		return nil
	}
	out := make([]uint32, len(r.order))
	copy(out, r.order)
	return out
}

// MarshalBinary encodes the table as RFLT version 1 with one 16-byte entry per fork.
func (r *ResumeData) MarshalBinary() ([]byte, error) {
	b := protocol.NewBuilder().
		WriteUint32(CodeRFLT).
		WriteUint16(1).
		WriteZeros(34).
		WriteUint16(uint16(len(r.order)))
	for _, fork := range r.order {
		b.WriteUint32(fork).WriteUint32(r.offsets[fork]).WriteUint32(0).WriteUint32(0)
	}
	return b.Build(), nil
}

// String lists the offsets for logging.
func (r *ResumeData) String() string {
	if r == nil || len(r.offsets) == 0 {
		return "RFLT{}"
	}
	forks := r.Forks()
	sort.Slice(forks, func(i, j int) bool { return forks[i] < forks[j] })
	s := "RFLT{"
	for i, f := range forks {
		if i > 0 {
			s += " "
		}
		s += protocol.CodeString(f) + "=" + strconv.FormatUint(uint64(r.offsets[f]), 10)
	}
	return s + "}"
}
