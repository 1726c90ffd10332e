package network

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/phxd-project/phxd/internal/protocol"
	"github.com/phxd-project/phxd/internal/transfer"
)

// DrainTimeout is how long a finished download waits for the peer to
// hang up before closing the socket itself.
const DrainTimeout = 10 * time.Second

// TransferMatcher pairs transfer connections with registered transfers.
type TransferMatcher interface {
	Match(id, size uint32) transfer.Transfer
	Closed(t transfer.Transfer)
}

// TransferConn is one file transfer connection. It reads the 16 byte HTXF
// magic, binds the matching transfer and then either receives an upload
// or streams a download.
type TransferConn struct {
	id      uint64
	conn    net.Conn
	matcher TransferMatcher
	logger  zerolog.Logger

	closeOnce sync.Once
}

// NewTransferConn wraps an accepted transfer socket.
func NewTransferConn(id uint64, nc net.Conn, matcher TransferMatcher) *TransferConn {
	return &TransferConn{
		id:      id,
		conn:    nc,
		matcher: matcher,
		logger: log.With().
			Str("component", "xferconn").
			Uint64("conn", id).
			Str("remote", nc.RemoteAddr().String()).
			Logger(),
	}
}

// Close closes the socket. It is safe to call more than once.
func (c *TransferConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// Serve runs the connection to completion. A bad or unknown magic closes
// it without a reply.
func (c *TransferConn) Serve(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()
	defer c.Close()

	head := make([]byte, protocol.TransferMagicLen)
	if _, err := io.ReadFull(c.conn, head); err != nil {
		c.logger.Debug().Err(err).Msg("no transfer magic")
		return
	}
	magic, _ := protocol.ParseTransferMagic(head)
	if !magic.Valid() {
		c.logger.Debug().Str("magic", magic.String()).Msg("bad transfer magic")
		return
	}
	t := c.matcher.Match(magic.ID, magic.Size)
	if t == nil {
		c.logger.Debug().Str("magic", magic.String()).Msg("no pending transfer")
		return
	}
	t.Bind(c)
	defer c.matcher.Closed(t)

	switch x := t.(type) {
	case *transfer.Incoming:
		c.receive(x)
	case *transfer.Outgoing:
		c.send(x)
	default:
		c.logger.Error().Str("xfer", t.String()).Msg("unsupported transfer type")
	}
}

func (c *TransferConn) receive(t *transfer.Incoming) {
	buf := make([]byte, transfer.ReadSize)
	for !t.IsComplete() {
		n, err := c.conn.Read(buf)
		if n > 0 {
			if _, werr := t.Write(buf[:n]); werr != nil {
				c.logger.Warn().Err(werr).Str("xfer", t.String()).Msg("upload write failed")
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Debug().Err(err).Msg("upload read failed")
			}
			return
		}
	}
}

func (c *TransferConn) send(t *transfer.Outgoing) {
	peerDone := make(chan struct{})
	go func() {
		defer close(peerDone)
		var b [1]byte
		n, _ := c.conn.Read(b[:])
		if n > 0 {
			c.logger.Debug().Msg("unexpected bytes on download connection")
			c.Close()
		}
	}()

	// Write blocks while the peer's window is full, so no chunk is pulled
	// until the previous one was accepted.
	if _, err := t.WriteTo(c.conn); err != nil {
		c.logger.Debug().Err(err).Str("xfer", t.String()).Msg("download interrupted")
		return
	}
	if tc, ok := c.conn.(*net.TCPConn); ok {
		tc.CloseWrite()
	}
	select {
	case <-peerDone:
	case <-time.After(DrainTimeout):
	}
}
