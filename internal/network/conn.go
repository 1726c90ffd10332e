// Package network drives the Hotline control and transfer connections and
// the tracker announcements.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/phxd-project/phxd/internal/protocol"
)

const (
	// WriteTimeout bounds a single socket write.
	WriteTimeout = 10 * time.Second

	// SendQueueSize is the number of outbound packets a connection buffers
	// before it is considered stuck and dropped.
	SendQueueSize = 256

	// DefaultMaxPacketSize is the largest packet body a peer may announce
	// before the connection is dropped.
	DefaultMaxPacketSize = 4 << 20

	readBufferSize = 4096
)

var (
	ErrClosed    = errors.New("connection is closed")
	ErrQueueFull = errors.New("send queue full")
	ErrBadMagic  = errors.New("bad magic")
)

// State is the protocol state of a control connection.
type State int32

const (
	StateAwaitingMagic State = iota
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingMagic:
		return "awaiting_magic"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Role decides which magic a connection sends and which it expects.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// Magic returns the prologue this role sends on connect.
func (r Role) Magic() []byte {
	if r == RoleClient {
		b, _ := protocol.DefaultClientMagic().MarshalBinary()
		return b
	}
	b, _ := protocol.ServerMagic{Proto: protocol.ProtoTRTP}.MarshalBinary()
	return b
}

// ExpectedMagicLen returns the length of the peer's prologue.
func (r Role) ExpectedMagicLen() int {
	if r == RoleClient {
		return protocol.ServerMagicLen
	}
	return protocol.ClientMagicLen
}

// Handler receives the events of a control connection. Callbacks run on
// the connection's read goroutine, in receipt order.
type Handler interface {
	ConnectionOpened(c *Conn)
	MagicReceived(c *Conn, magic []byte)
	PacketReceived(c *Conn, p *protocol.Packet)
	ConnectionLost(c *Conn, err error)
}

// Conn is one control connection. Reads are parsed on the goroutine
// running Serve; writes go through a bounded queue drained by a writer
// goroutine so a slow peer never blocks the caller.
type Conn struct {
	id      uint64
	conn    net.Conn
	role    Role
	handler Handler
	logger  zerolog.Logger

	state     atomic.Int32
	buf       []byte
	maxPacket int

	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
	lostOnce  sync.Once
	writerWG  sync.WaitGroup

	connectedAt  time.Time
	lastActivity atomic.Int64
}

// NewConn wraps an accepted or dialed socket.
func NewConn(id uint64, nc net.Conn, role Role, h Handler) *Conn {
	now := time.Now()
	c := &Conn{
		id:          id,
		conn:        nc,
		role:        role,
		handler:     h,
		maxPacket:   DefaultMaxPacketSize,
		queue:       make(chan []byte, SendQueueSize),
		done:        make(chan struct{}),
		connectedAt: now,
		logger: log.With().
			Str("component", "conn").
			Uint64("conn", id).
			Str("remote", nc.RemoteAddr().String()).
			Logger(),
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

// SetMaxPacketSize changes the body size limit. It must be called before
// Serve; non-positive values keep the current limit.
func (c *Conn) SetMaxPacketSize(n int) {
	if n > 0 {
		c.maxPacket = n
	}
}

// ID returns the listener-assigned connection number.
func (c *Conn) ID() uint64 { return c.id }

// Role returns whether this is the server or client end.
func (c *Conn) Role() Role { return c.role }

// State returns the current protocol state.
func (c *Conn) State() State { return State(c.state.Load()) }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Host returns the peer IP without the port.
func (c *Conn) Host() string { return extractIP(c.conn.RemoteAddr()) }

// ConnectedAt returns when the connection was accepted.
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// LastActivity returns the time of the last received bytes.
func (c *Conn) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Logger returns the connection's logger.
func (c *Conn) Logger() *zerolog.Logger { return &c.logger }

// Serve sends this side's magic and processes the connection until it
// closes. ConnectionLost is delivered exactly once before Serve returns.
func (c *Conn) Serve(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	c.writerWG.Add(1)
	go c.writeLoop()

	c.handler.ConnectionOpened(c)
	err := c.SendRaw(c.role.Magic())
	if err == nil {
		err = c.readLoop()
	}
	c.Close()
	c.writerWG.Wait()
	c.lost(err)
}

func (c *Conn) readLoop() error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.lastActivity.Store(time.Now().UnixNano())
			c.Feed(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) || c.State() == StateClosed {
				return nil
			}
			return err
		}
	}
}

func (c *Conn) lost(err error) {
	c.lostOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		c.handler.ConnectionLost(c, err)
	})
}

// Feed runs received bytes through the state machine. The magic is
// consumed first; every complete packet after it is dispatched in order.
// A short buffer just waits for more bytes, but a header announcing a
// body over the size limit closes the connection. Processing stops as
// soon as the connection is closed, including from inside a callback.
func (c *Conn) Feed(data []byte) {
	if c.State() == StateClosed {
		return
	}
	c.buf = append(c.buf, data...)

	if c.State() == StateAwaitingMagic {
		need := c.role.ExpectedMagicLen()
		if len(c.buf) < need {
			return
		}
		magic := make([]byte, need)
		copy(magic, c.buf)
		c.buf = c.buf[need:]
		c.state.CompareAndSwap(int32(StateAwaitingMagic), int32(StateStreaming))
		c.handler.MagicReceived(c, magic)
	}

	for c.State() == StateStreaming {
		if size, ok := protocol.DeclaredBodySize(c.buf); ok && uint64(size) > uint64(c.maxPacket) {
			c.logger.Warn().Uint32("size", size).Int("max", c.maxPacket).Msg("packet exceeds size limit")
			c.buf = nil
			c.Close()
			break
		}
		p, n, err := protocol.ParsePacket(c.buf)
		if errors.Is(err, protocol.ErrIncomplete) {
			break
		}
		if err != nil {
			c.logger.Debug().Err(err).Msg("protocol violation")
			c.Close()
			break
		}
		c.buf = c.buf[n:]
		c.handler.PacketReceived(c, p)
	}

	if len(c.buf) == 0 {
		c.buf = nil
	} else {
		c.buf = append([]byte(nil), c.buf...)
	}
}

// Send queues a packet for the peer.
func (c *Conn) Send(p *protocol.Packet) error {
	b, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	return c.SendRaw(b)
}

// SendRaw queues already encoded bytes. A full queue drops the
// connection rather than blocking the sender.
func (c *Conn) SendRaw(b []byte) error {
	if c.State() == StateClosed {
		return ErrClosed
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.queue <- b:
		return nil
	default:
		c.logger.Warn().Msg("send queue full, dropping connection")
		c.Close()
		return ErrQueueFull
	}
}

func (c *Conn) writeLoop() {
	defer c.writerWG.Done()
	for {
		select {
		case <-c.done:
			return
		case b := <-c.queue:
			if b == nil {
				c.Close()
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if _, err := c.conn.Write(b); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				c.Close()
				return
			}
		}
	}
}

// CloseAfterFlush stops processing input and closes the socket once every
// packet queued so far has been written.
func (c *Conn) CloseAfterFlush() {
	if c.state.Swap(int32(StateClosed)) == int32(StateClosed) {
		return
	}
	select {
	case c.queue <- nil:
	default:
		c.Close()
	}
}

// Close closes the socket immediately. Queued packets are discarded.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) String() string {
	return fmt.Sprintf("conn %d (%s)", c.id, c.conn.RemoteAddr())
}
