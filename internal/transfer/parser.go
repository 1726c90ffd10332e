package transfer

import (
	"io"
)

type parseState int

const (
	stateFILP parseState = iota
	stateHeader
	stateFork
	stateDone
)

// maxInfoSize bounds how much of an INFO fork is kept in memory.
const maxInfoSize = 1 << 16

// ForkParser consumes a FILP stream written in arbitrary pieces. DATA bytes
// go straight to the data writer, MACR bytes to the resource writer, and
// the INFO fork is buffered and decoded once it is complete.
type ForkParser struct {
	data     io.Writer
	resource io.Writer
	onInfo   func(FileInfo) error

	state     parseState
	buf       []byte
	remaining int
	fork      ForkHeader
	forkRead  uint32
	info      []byte
	received  map[uint32]uint64
}

// NewForkParser creates a parser. Either writer may be nil to discard that fork.
func NewForkParser(data, resource io.Writer, onInfo func(FileInfo) error) *ForkParser {
	return &ForkParser{
		data:     data,
		resource: resource,
		onInfo:   onInfo,
		received: make(map[uint32]uint64),
	}
}

// Write feeds stream bytes. It always accepts the whole slice unless a
// sink fails; bytes after the last fork are ignored.
func (p *ForkParser) Write(b []byte) (int, error) {
	n := len(b)
	for len(b) > 0 && p.state != stateDone {
		switch p.state {
		case stateFILP:
			var ok bool
			if b, ok = p.fill(b, FILPHeaderSize); !ok {
				return n, nil
			}
			h := parseFILPHeader(p.buf)
			p.buf = p.buf[:0]
			p.remaining = int(h.ForkCount)
			if p.remaining <= 0 {
				p.state = stateDone
			} else {
				p.state = stateHeader
			}

		case stateHeader:
			var ok bool
			if b, ok = p.fill(b, ForkHeaderSize); !ok {
				return n, nil
			}
			p.fork = parseForkHeader(p.buf)
			p.buf = p.buf[:0]
			p.forkRead = 0
			p.info = p.info[:0]
			p.state = stateFork
			if p.fork.Size == 0 {
				if err := p.finishFork(); err != nil {
					return n - len(b), err
				}
			}

		case stateFork:
			take := p.fork.Size - p.forkRead
			if uint64(len(b)) < uint64(take) {
				take = uint32(len(b))
			}
			if err := p.route(b[:take]); err != nil {
				return n - len(b), err
			}
			p.forkRead += take
			b = b[take:]
			if p.forkRead == p.fork.Size {
				if err := p.finishFork(); err != nil {
					return n - len(b), err
				}
			}
		}
	}
	return n, nil
}

// fill moves bytes from b into the header buffer until it holds size bytes.
func (p *ForkParser) fill(b []byte, size int) ([]byte, bool) {
	need := size - len(p.buf)
	if len(b) < need {
		p.buf = append(p.buf, b...)
		return nil, false
	}
	p.buf = append(p.buf, b[:need]...)
	return b[need:], true
}

func (p *ForkParser) route(b []byte) error {
	p.received[p.fork.Type] += uint64(len(b))
	switch p.fork.Type {
	case ForkDATA:
		return write(p.data, b)
	case ForkMACR:
		return write(p.resource, b)
	case ForkINFO:
		if room := maxInfoSize - len(p.info); room > 0 {
			if len(b) > room {
				b = b[:room]
			}
			p.info = append(p.info, b...)
		}
	}
	return nil
}

func (p *ForkParser) finishFork() error {
	if p.fork.Type == ForkINFO && p.onInfo != nil {
		if err := p.onInfo(ParseFileInfo(p.info)); err != nil {
			return err
		}
	}
	p.remaining--
	if p.remaining <= 0 {
		p.state = stateDone
	} else {
		p.state = stateHeader
	}
	return nil
}

// Complete reports whether every announced fork has been consumed.
func (p *ForkParser) Complete() bool {
	return p.state == stateDone
}

// Received returns the payload bytes seen for a fork type.
func (p *ForkParser) Received(fork uint32) uint64 {
	return p.received[fork]
}

func write(w io.Writer, b []byte) error {
	if w == nil || len(b) == 0 {
		return nil
	}
	_, err := w.Write(b)
	return err
}
