package transfer

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/phxd-project/phxd/internal/events"
)

// ErrForkTooLarge is returned for forks that do not fit the 32-bit size field.
var ErrForkTooLarge = errors.New("transfer: fork exceeds 4 GiB")

// Source provides the forks of a file being downloaded.
type Source interface {
	FileInfo() FileInfo
	DataSize() uint64
	ResourceSize() uint64
	OpenData() (io.ReadSeekCloser, error)
	OpenResource() (io.ReadSeekCloser, error)
}

// segment is a fork header followed by a bounded read from one fork.
type segment struct {
	header    []byte
	r         io.Reader
	remaining uint64
}

// Outgoing is a download. NextChunk produces the FILP stream: header, INFO
// fork, DATA fork from its resume offset and, when one exists, the MACR fork.
type Outgoing struct {
	*Info
	segments []segment
	idx      int
	closers  []io.Closer
	forks    int
	dataLen  uint64

	finishOnce sync.Once
	finishErr  error
}

// NewOutgoing opens src and prepares the stream. Resume offsets larger
// than a fork are clamped to the fork size.
func NewOutgoing(name, path string, owner Owner, src Source, resume *ResumeData) (*Outgoing, error) {
	t := &Outgoing{Info: newInfo(name, path, owner, false)}

	dataSize := src.DataSize()
	dataOff := clampOffset(resume.Offset(ForkDATA), dataSize)
	dataLen := dataSize - dataOff
	rsrcSize := src.ResourceSize()
	rsrcOff := clampOffset(resume.Offset(ForkMACR), rsrcSize)
	rsrcLen := rsrcSize - rsrcOff
	if dataLen > math.MaxUint32 || rsrcLen > math.MaxUint32 {
		return nil, fmt.Errorf("%s: %w", name, ErrForkTooLarge)
	}

	data, err := src.OpenData()
	if err != nil {
		return nil, fmt.Errorf("open data fork: %w", err)
	}
	t.closers = append(t.closers, data)
	if _, err := data.Seek(int64(dataOff), io.SeekStart); err != nil {
		t.closeAll()
		return nil, fmt.Errorf("seek data fork: %w", err)
	}

	t.forks = 2
	var rsrc io.ReadSeekCloser
	if rsrcLen > 0 {
		if rsrc, err = src.OpenResource(); err != nil {
			t.closeAll()
			return nil, fmt.Errorf("open resource fork: %w", err)
		}
		t.closers = append(t.closers, rsrc)
		if _, err := rsrc.Seek(int64(rsrcOff), io.SeekStart); err != nil {
			t.closeAll()
			return nil, fmt.Errorf("seek resource fork: %w", err)
		}
		t.forks++
	}

	info := src.FileInfo()
	info.Name = name
	infoData, _ := info.MarshalBinary()
	filp, _ := FILPHeader{Version: 1, ForkCount: uint16(t.forks)}.MarshalBinary()
	infoHdr, _ := ForkHeader{Type: ForkINFO, Size: uint32(len(infoData))}.MarshalBinary()
	dataHdr, _ := ForkHeader{Type: ForkDATA, Size: uint32(dataLen)}.MarshalBinary()

	prelude := make([]byte, 0, len(filp)+len(infoHdr)+len(infoData)+len(dataHdr))
	prelude = append(prelude, filp...)
	prelude = append(prelude, infoHdr...)
	prelude = append(prelude, infoData...)
	prelude = append(prelude, dataHdr...)

	t.segments = append(t.segments, segment{header: prelude, r: data, remaining: dataLen})
	total := uint64(len(prelude)) + dataLen
	if rsrc != nil {
		rsrcHdr, _ := ForkHeader{Type: ForkMACR, Size: uint32(rsrcLen)}.MarshalBinary()
		t.segments = append(t.segments, segment{header: rsrcHdr, r: rsrc, remaining: rsrcLen})
		total += uint64(len(rsrcHdr)) + rsrcLen
	}
	t.dataLen = dataLen
	t.SetTotal(total)
	return t, nil
}

func clampOffset(off uint32, size uint64) uint64 {
	if uint64(off) > size {
		return size
	}
	return uint64(off)
}

// DataLength returns the DATA bytes that will be sent.
func (t *Outgoing) DataLength() uint64 {
	return t.dataLen
}

// ForkCount returns the number of forks announced in the FILP header.
func (t *Outgoing) ForkCount() int {
	return t.forks
}

// NextChunk returns the next piece of the stream. Once everything has been
// produced it returns io.EOF on every call. Progress is not recorded
// here; callers that deliver the chunk themselves report it with Sent.
func (t *Outgoing) NextChunk() ([]byte, error) {
	for t.idx < len(t.segments) {
		seg := &t.segments[t.idx]
		if len(seg.header) > 0 {
			h := seg.header
			seg.header = nil
			return h, nil
		}
		if seg.remaining == 0 {
			t.idx++
			continue
		}
		n := uint64(ReadSize)
		if seg.remaining < n {
			n = seg.remaining
		}
		buf := make([]byte, n)
		read, err := io.ReadFull(seg.r, buf)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", t.name, err)
		}
		seg.remaining -= uint64(read)
		return buf[:read], nil
	}
	return nil, io.EOF
}

// Sent records n stream bytes as delivered to the peer.
func (t *Outgoing) Sent(n int) {
	t.advance(n)
}

// WriteTo streams every remaining chunk into w. Only bytes w accepted
// count towards progress.
func (t *Outgoing) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for {
		chunk, err := t.NextChunk()
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		n, err := w.Write(chunk)
		total += int64(n)
		t.Sent(n)
		if err != nil {
			return total, err
		}
	}
}

// IsComplete reports whether the whole stream has been delivered.
func (t *Outgoing) IsComplete() bool {
	return t.Transferred() >= t.Total()
}

// Finish closes the open forks. Calling Finish more than once is safe.
func (t *Outgoing) Finish() error {
	t.finishOnce.Do(func() {
		t.finishErr = t.closeAll()
	})
	return t.finishErr
}

func (t *Outgoing) closeAll() error {
	var errs []error
	for _, c := range t.closers {
		errs = append(errs, c.Close())
	}
	t.closers = nil
	return errors.Join(errs...)
}

// Payload snapshots the transfer for events.
func (t *Outgoing) Payload() events.TransferPayload {
	return t.payload(t.IsComplete())
}
