package transfer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

type memFile struct {
	*bytes.Reader
	closed *bool
}

func (m memFile) Close() error {
	*m.closed = true
	return nil
}

type memSource struct {
	data, rsrc   []byte
	dataClosed   bool
	rsrcClosed   bool
	openDataFail bool
}

func (s *memSource) FileInfo() FileInfo { return FileInfo{Type: 0x54455854, Creator: 0x74747874} }
func (s *memSource) DataSize() uint64 { return uint64(len(s.data)) }
func (s *memSource) ResourceSize() uint64 { return uint64(len(s.rsrc)) }

func (s *memSource) OpenData() (io.ReadSeekCloser, error) {
	if s.openDataFail {
		return nil, errors.New("missing")
	}
	return memFile{bytes.NewReader(s.data), &s.dataClosed}, nil
}

func (s *memSource) OpenResource() (io.ReadSeekCloser, error) {
	return memFile{bytes.NewReader(s.rsrc), &s.rsrcClosed}, nil
}

func drain(t *testing.T, o *Outgoing) []byte {
	t.Helper()
	var out []byte
	for i := 0; ; i++ {
		chunk, err := o.NextChunk()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("NextChunk() error = %v", err)
		}
		if len(chunk) > ReadSize && i > 0 {
			t.Fatalf("chunk of %d bytes exceeds ReadSize", len(chunk))
		}
		o.Sent(len(chunk))
		out = append(out, chunk...)
	}
}

// forkPayloads walks a FILP stream and returns the header size and payload per fork.
func forkPayloads(t *testing.T, stream []byte) map[uint32][]byte {
	t.Helper()
	if len(stream) < FILPHeaderSize {
		t.Fatalf("stream too short: %d", len(stream))
	}
	count := int(binary.BigEndian.Uint16(stream[22:24]))
	pos := FILPHeaderSize
	out := make(map[uint32][]byte)
	for i := 0; i < count; i++ {
		h := parseForkHeader(stream[pos : pos+ForkHeaderSize])
		pos += ForkHeaderSize
		out[h.Type] = stream[pos : pos+int(h.Size)]
		pos += int(h.Size)
	}
	if pos != len(stream) {
		t.Fatalf("stream has %d trailing bytes", len(stream)-pos)
	}
	return out
}

func TestOutgoingResumeOffset(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	src := &memSource{data: data}
	resume := NewResumeData()
	resume.SetOffset(ForkDATA, 50)

	o, err := NewOutgoing("file.bin", "/files/file.bin", Owner{UID: 1}, src, resume)
	if err != nil {
		t.Fatalf("NewOutgoing() error = %v", err)
	}
	stream := drain(t, o)

	forks := forkPayloads(t, stream)
	if got := forks[ForkDATA]; !bytes.Equal(got, data[50:]) {
		t.Errorf("DATA fork = %d bytes, want last 50", len(got))
	}
	if _, ok := forks[ForkMACR]; ok {
		t.Error("MACR fork sent for file without resource fork")
	}
	if o.ForkCount() != 2 || o.DataLength() != 50 {
		t.Errorf("ForkCount() = %d DataLength() = %d", o.ForkCount(), o.DataLength())
	}
	if uint64(len(stream)) != o.Total() {
		t.Errorf("stream = %d bytes, Total() = %d", len(stream), o.Total())
	}
	if !o.IsComplete() {
		t.Error("IsComplete() = false after draining")
	}

	// Exhausted producers keep returning EOF.
	for i := 0; i < 3; i++ {
		if chunk, err := o.NextChunk(); !errors.Is(err, io.EOF) || len(chunk) != 0 {
			t.Fatalf("NextChunk() after EOF = %d bytes, %v", len(chunk), err)
		}
	}
}

func TestOutgoingInfoFork(t *testing.T) {
	src := &memSource{data: []byte("hello")}
	o, err := NewOutgoing("hello.txt", "", Owner{}, src, nil)
	if err != nil {
		t.Fatal(err)
	}
	forks := forkPayloads(t, drain(t, o))
	info := forks[ForkINFO]
	if len(info) != infoFixedSize+len("hello.txt") {
		t.Fatalf("INFO fork = %d bytes, want %d", len(info), infoFixedSize+9)
	}
	if string(info[0:4]) != "AMAC" || string(info[4:8]) != "TEXT" {
		t.Errorf("INFO header = %q", info[0:12])
	}
	if fi := ParseFileInfo(info); fi.Name != "hello.txt" {
		t.Errorf("INFO name = %q", fi.Name)
	}
}

func TestOutgoingResourceFork(t *testing.T) {
	src := &memSource{
		data: bytes.Repeat([]byte{1}, 3*ReadSize+5),
		rsrc: []byte("resource"),
	}
	resume := NewResumeData()
	resume.SetOffset(ForkMACR, 3)

	o, err := NewOutgoing("big", "", Owner{}, src, resume)
	if err != nil {
		t.Fatal(err)
	}
	forks := forkPayloads(t, drain(t, o))
	if len(forks[ForkDATA]) != 3*ReadSize+5 {
		t.Errorf("DATA = %d bytes", len(forks[ForkDATA]))
	}
	if string(forks[ForkMACR]) != "ource" {
		t.Errorf("MACR = %q", forks[ForkMACR])
	}

	if err := o.Finish(); err != nil {
		t.Fatal(err)
	}
	if !src.dataClosed || !src.rsrcClosed {
		t.Error("forks not closed by Finish")
	}
	if err := o.Finish(); err != nil {
		t.Errorf("second Finish() error = %v", err)
	}
}

func TestOutgoingOffsetClamped(t *testing.T) {
	src := &memSource{data: []byte("short")}
	resume := NewResumeData()
	resume.SetOffset(ForkDATA, 500)

	o, err := NewOutgoing("short", "", Owner{}, src, resume)
	if err != nil {
		t.Fatal(err)
	}
	if o.DataLength() != 0 {
		t.Errorf("DataLength() = %d, want 0", o.DataLength())
	}
	forks := forkPayloads(t, drain(t, o))
	if len(forks[ForkDATA]) != 0 {
		t.Errorf("DATA = %d bytes", len(forks[ForkDATA]))
	}
}

func TestOutgoingOpenFailure(t *testing.T) {
	if _, err := NewOutgoing("x", "", Owner{}, &memSource{openDataFail: true}, nil); err == nil {
		t.Fatal("NewOutgoing() succeeded with missing data fork")
	}
}

func TestOutgoingWriteTo(t *testing.T) {
	src := &memSource{data: []byte("payload")}
	o, _ := NewOutgoing("p", "", Owner{}, src, nil)
	var buf bytes.Buffer
	n, err := o.WriteTo(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if uint64(n) != o.Total() {
		t.Errorf("WriteTo() = %d, Total() = %d", n, o.Total())
	}
	if !o.IsComplete() {
		t.Error("IsComplete() = false after WriteTo")
	}
}

// failingWriter accepts limit bytes and then fails every write.
type failingWriter struct {
	limit int
	n     int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	room := w.limit - w.n
	if room <= 0 {
		return 0, errors.New("connection reset")
	}
	if len(p) > room {
		w.n += room
		return room, errors.New("connection reset")
	}
	w.n += len(p)
	return len(p), nil
}

func TestOutgoingWriteFailureIsIncomplete(t *testing.T) {
	src := &memSource{data: bytes.Repeat([]byte("x"), 100)}
	o, _ := NewOutgoing("p", "", Owner{}, src, nil)
	short := int(o.Total()) - 10
	n, err := o.WriteTo(&failingWriter{limit: short})
	if err == nil {
		t.Fatal("WriteTo() succeeded on a failing writer")
	}
	if int(n) != short || o.Transferred() != uint64(short) {
		t.Errorf("WriteTo() = %d, Transferred() = %d, want %d", n, o.Transferred(), short)
	}
	if o.IsComplete() {
		t.Error("IsComplete() = true after the last chunk failed")
	}
}
