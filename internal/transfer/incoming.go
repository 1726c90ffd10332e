package transfer

import (
	"errors"
	"io"
	"sync"

	"github.com/phxd-project/phxd/internal/events"
)

// Destination stores the forks of an uploaded file.
type Destination interface {
	DataWriter() io.Writer
	ResourceWriter() io.Writer
	SetInfo(info FileInfo) error
	// Commit publishes a fully received file under its final name.
	Commit() error
	Close() error
}

// Incoming is an upload. Bytes written to it are parsed as a FILP stream.
type Incoming struct {
	*Info
	dest   Destination
	parser *ForkParser

	finishOnce sync.Once
	finishErr  error
}

// NewIncoming creates an upload that writes into dest.
func NewIncoming(name, path string, owner Owner, dest Destination) *Incoming {
	t := &Incoming{
		Info: newInfo(name, path, owner, true),
		dest: dest,
	}
	t.parser = NewForkParser(dest.DataWriter(), dest.ResourceWriter(), dest.SetInfo)
	return t
}

// Write feeds bytes received on the transfer connection.
func (t *Incoming) Write(b []byte) (int, error) {
	t.advance(len(b))
	return t.parser.Write(b)
}

// IsComplete reports whether every announced fork arrived.
func (t *Incoming) IsComplete() bool {
	return t.parser.Complete()
}

// Received returns the payload bytes seen for one fork type.
func (t *Incoming) Received(fork uint32) uint64 {
	return t.parser.Received(fork)
}

// Finish closes the destination and, when the upload is complete, commits
// it. Calling Finish more than once is safe.
func (t *Incoming) Finish() error {
	t.finishOnce.Do(func() {
		err := t.dest.Close()
		if t.IsComplete() {
			err = errors.Join(err, t.dest.Commit())
		}
		t.finishErr = err
	})
	return t.finishErr
}

// Payload snapshots the transfer for events.
func (t *Incoming) Payload() events.TransferPayload {
	return t.payload(t.IsComplete())
}
