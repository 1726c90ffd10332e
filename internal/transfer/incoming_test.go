package transfer

import (
	"bytes"
	"io"
	"testing"
)

type memDest struct {
	data, rsrc bytes.Buffer
	info       FileInfo
	closed     int
	committed  int
}

func (d *memDest) DataWriter() io.Writer { return &d.data }
func (d *memDest) ResourceWriter() io.Writer { return &d.rsrc }
func (d *memDest) SetInfo(fi FileInfo) error { d.info = fi; return nil }
func (d *memDest) Commit() error { d.committed++; return nil }
func (d *memDest) Close() error { d.closed++; return nil }

func TestIncomingCompletes(t *testing.T) {
	info, _ := FileInfo{Name: "up.txt", Comment: "c"}.MarshalBinary()
	stream := buildStream(t, fork{ForkINFO, info}, fork{ForkDATA, []byte("0123456789")})

	dest := &memDest{}
	in := NewIncoming("up.txt", "/files/up.txt", Owner{UID: 4}, dest)
	in.SetTotal(uint64(len(stream)))

	half := len(stream) / 2
	in.Write(stream[:half])
	if in.IsComplete() {
		t.Fatal("complete after half the stream")
	}
	in.Write(stream[half:])
	if !in.IsComplete() {
		t.Fatal("not complete after full stream")
	}
	if in.Transferred() != uint64(len(stream)) {
		t.Errorf("Transferred() = %d", in.Transferred())
	}
	if in.Received(ForkDATA) != 10 {
		t.Errorf("Received(DATA) = %d", in.Received(ForkDATA))
	}
	if dest.info.Comment != "c" {
		t.Errorf("info comment = %q", dest.info.Comment)
	}

	in.Finish()
	in.Finish()
	if dest.closed != 1 || dest.committed != 1 {
		t.Errorf("closed = %d committed = %d, want 1/1", dest.closed, dest.committed)
	}
}

func TestIncomingAbortedNotCommitted(t *testing.T) {
	stream := buildStream(t, fork{ForkDATA, []byte("0123456789")})
	dest := &memDest{}
	in := NewIncoming("up", "", Owner{}, dest)
	in.Write(stream[:len(stream)-1])
	in.Finish()

	if dest.committed != 0 {
		t.Error("partial upload committed")
	}
	if dest.data.Len() != 9 {
		t.Errorf("partial data = %d bytes, want 9", dest.data.Len())
	}
}
