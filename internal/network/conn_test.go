package network

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/phxd-project/phxd/internal/protocol"
)

type recorder struct {
	mu      sync.Mutex
	opened  int
	magics  [][]byte
	packets []*protocol.Packet
	lost    int

	onMagic  func(c *Conn, magic []byte)
	onPacket func(c *Conn, p *protocol.Packet)
	lostCh   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{lostCh: make(chan struct{}, 4)}
}

func (r *recorder) ConnectionOpened(c *Conn) {
	r.mu.Lock()
	r.opened++
	r.mu.Unlock()
}

func (r *recorder) MagicReceived(c *Conn, magic []byte) {
	r.mu.Lock()
	r.magics = append(r.magics, magic)
	r.mu.Unlock()
	if r.onMagic != nil {
		r.onMagic(c, magic)
	}
}

func (r *recorder) PacketReceived(c *Conn, p *protocol.Packet) {
	r.mu.Lock()
	r.packets = append(r.packets, p)
	r.mu.Unlock()
	if r.onPacket != nil {
		r.onPacket(c, p)
	}
}

func (r *recorder) ConnectionLost(c *Conn, err error) {
	r.mu.Lock()
	r.lost++
	r.mu.Unlock()
	r.lostCh <- struct{}{}
}

func (r *recorder) packetCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.packets)
}

func clientMagic(t *testing.T) []byte {
	t.Helper()
	b, err := protocol.DefaultClientMagic().MarshalBinary()
	if err != nil {
		t.Fatalf("marshal magic: %v", err)
	}
	return b
}

func packetBytes(t *testing.T, kind, seq uint32, nick string) []byte {
	t.Helper()
	p := protocol.NewPacket(kind)
	p.Seq = seq
	p.AddString(protocol.DataNick, nick)
	b, err := p.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal packet: %v", err)
	}
	return b
}

func pipeConn(t *testing.T, h Handler) (*Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return NewConn(1, server, RoleServer, h), client
}

func TestFeedChunkings(t *testing.T) {
	var stream []byte
	stream = append(stream, clientMagic(t)...)
	stream = append(stream, packetBytes(t, protocol.TypeLogin, 1, "alice")...)
	stream = append(stream, packetBytes(t, protocol.TypeChat, 0, "bob")...)

	for _, size := range []int{1, 3, 12, 13, 25, len(stream)} {
		r := newRecorder()
		c, _ := pipeConn(t, r)
		for off := 0; off < len(stream); off += size {
			end := min(off+size, len(stream))
			c.Feed(stream[off:end])
		}
		if len(r.magics) != 1 || len(r.magics[0]) != protocol.ClientMagicLen {
			t.Fatalf("chunk %d: magics = %v", size, r.magics)
		}
		if c.State() != StateStreaming {
			t.Errorf("chunk %d: state = %v, want streaming", size, c.State())
		}
		if len(r.packets) != 2 {
			t.Fatalf("chunk %d: got %d packets, want 2", size, len(r.packets))
		}
		if r.packets[0].Kind != protocol.TypeLogin || r.packets[0].Seq != 1 {
			t.Errorf("chunk %d: first packet = %v", size, r.packets[0])
		}
		if got := r.packets[1].GetString(protocol.DataNick, ""); got != "bob" {
			t.Errorf("chunk %d: second nick = %q", size, got)
		}
	}
}

func TestFeedStopsWhenClosedInCallback(t *testing.T) {
	r := newRecorder()
	r.onPacket = func(c *Conn, p *protocol.Packet) { c.Close() }
	c, _ := pipeConn(t, r)

	var stream []byte
	stream = append(stream, clientMagic(t)...)
	stream = append(stream, packetBytes(t, protocol.TypeLogin, 1, "a")...)
	stream = append(stream, packetBytes(t, protocol.TypeLogin, 2, "b")...)
	c.Feed(stream)

	if len(r.packets) != 1 {
		t.Errorf("got %d packets after close, want 1", len(r.packets))
	}
	if c.State() != StateClosed {
		t.Errorf("state = %v, want closed", c.State())
	}
	c.Feed(packetBytes(t, protocol.TypeLogin, 3, "c"))
	if len(r.packets) != 1 {
		t.Errorf("Feed after close dispatched a packet")
	}
}

func TestFeedBadMagicClose(t *testing.T) {
	r := newRecorder()
	r.onMagic = func(c *Conn, magic []byte) {
		m, _ := protocol.ParseClientMagic(magic)
		if !m.Valid() {
			c.Close()
		}
	}
	c, _ := pipeConn(t, r)
	junk := append([]byte("GET / HTTP/1.0\r\n"), packetBytes(t, protocol.TypeLogin, 1, "x")...)
	c.Feed(junk)
	if len(r.packets) != 0 {
		t.Errorf("packets dispatched after bad magic: %d", len(r.packets))
	}
}

func TestFeedMalformedBodyCloses(t *testing.T) {
	r := newRecorder()
	c, _ := pipeConn(t, r)

	bad := make([]byte, protocol.PacketHeaderSize+4)
	binary.BigEndian.PutUint32(bad[0:4], protocol.TypeChat)
	binary.BigEndian.PutUint32(bad[12:16], 4)
	binary.BigEndian.PutUint32(bad[16:20], 4)
	binary.BigEndian.PutUint16(bad[20:22], 5)

	c.Feed(append(clientMagic(t), bad...))
	if c.State() != StateClosed {
		t.Errorf("state = %v, want closed", c.State())
	}
	if len(r.packets) != 0 {
		t.Errorf("malformed packet was dispatched")
	}
}

func TestFeedOversizedPacketCloses(t *testing.T) {
	r := newRecorder()
	c, _ := pipeConn(t, r)
	c.SetMaxPacketSize(64)

	head := make([]byte, protocol.PacketHeaderSize)
	binary.BigEndian.PutUint32(head[0:4], protocol.TypeChat)
	binary.BigEndian.PutUint32(head[12:16], 0xFFFFFFFF)
	c.Feed(append(clientMagic(t), head...))
	if c.State() != StateClosed {
		t.Fatalf("state = %v, want closed", c.State())
	}
	c.Feed(make([]byte, 4096))
	if len(c.buf) != 0 {
		t.Errorf("buffered %d bytes after close", len(c.buf))
	}
}

func TestFeedWithinLimitWaits(t *testing.T) {
	r := newRecorder()
	c, _ := pipeConn(t, r)
	pkt := packetBytes(t, protocol.TypeLogin, 1, "alice")
	c.SetMaxPacketSize(len(pkt) - protocol.PacketHeaderSize)

	stream := append(clientMagic(t), pkt...)
	c.Feed(stream[:len(stream)-1])
	if c.State() != StateStreaming || len(r.packets) != 0 {
		t.Fatalf("state = %v packets = %d after a short read", c.State(), len(r.packets))
	}
	c.Feed(stream[len(stream)-1:])
	if len(r.packets) != 1 {
		t.Errorf("got %d packets, want 1", len(r.packets))
	}
}

func readServerMagic(t *testing.T, client net.Conn) {
	t.Helper()
	got := make([]byte, protocol.ServerMagicLen)
	if _, err := io.ReadFull(client, got); err != nil {
		t.Fatalf("read server magic: %v", err)
	}
	if !bytes.Equal(got, RoleServer.Magic()) {
		t.Fatalf("server magic = %x", got)
	}
}

func readPacket(t *testing.T, client net.Conn) *protocol.Packet {
	t.Helper()
	head := make([]byte, protocol.PacketHeaderSize)
	if _, err := io.ReadFull(client, head); err != nil {
		t.Fatalf("read header: %v", err)
	}
	body := make([]byte, binary.BigEndian.Uint32(head[12:16]))
	if _, err := io.ReadFull(client, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	p, _, err := protocol.ParsePacket(append(head, body...))
	if err != nil {
		t.Fatalf("parse reply: %v", err)
	}
	return p
}

func TestServeReplyAndLostOnce(t *testing.T) {
	r := newRecorder()
	r.onPacket = func(c *Conn, p *protocol.Packet) {
		reply := p.Response()
		reply.AddNumber(protocol.DataUID, 7)
		c.Send(reply)
	}
	c, client := pipeConn(t, r)
	go c.Serve(context.Background())

	readServerMagic(t, client)
	client.Write(append(clientMagic(t), packetBytes(t, protocol.TypeLogin, 42, "alice")...))

	reply := readPacket(t, client)
	if reply.Kind != protocol.TypeTaskReply || reply.Seq != 42 || reply.IsError() {
		t.Errorf("reply = %v", reply)
	}
	if got := reply.GetNumber(protocol.DataUID, 0); got != 7 {
		t.Errorf("uid = %d, want 7", got)
	}

	client.Close()
	select {
	case <-r.lostCh:
	case <-time.After(2 * time.Second):
		t.Fatal("ConnectionLost not delivered")
	}
	c.Close()
	time.Sleep(20 * time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lost != 1 || r.opened != 1 {
		t.Errorf("opened=%d lost=%d, want 1 and 1", r.opened, r.lost)
	}
}

func TestCloseAfterFlushDeliversReply(t *testing.T) {
	r := newRecorder()
	r.onPacket = func(c *Conn, p *protocol.Packet) {
		c.Send(p.Error("You are banned."))
		c.CloseAfterFlush()
	}
	c, client := pipeConn(t, r)
	go c.Serve(context.Background())

	readServerMagic(t, client)
	go client.Write(append(append(clientMagic(t),
		packetBytes(t, protocol.TypeLogin, 5, "x")...),
		packetBytes(t, protocol.TypeLogin, 6, "y")...))

	reply := readPacket(t, client)
	if !reply.IsError() || reply.Seq != 5 {
		t.Fatalf("reply = %v, want error for seq 5", reply)
	}
	if got := reply.GetString(protocol.DataError, ""); got != "You are banned." {
		t.Errorf("error text = %q", got)
	}
	var b [1]byte
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Read(b[:]); !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("read after fatal reply: err = %v, want EOF", err)
	}
	if n := r.packetCount(); n != 1 {
		t.Errorf("dispatched %d packets, want 1", n)
	}
}

func TestServeContextCancel(t *testing.T) {
	r := newRecorder()
	c, client := pipeConn(t, r)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Serve(ctx)
		close(done)
	}()
	readServerMagic(t, client)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if c.Send(protocol.NewPacket(protocol.TypeChat)) != ErrClosed {
		t.Errorf("Send on closed connection did not fail")
	}
}

func TestRoleMagic(t *testing.T) {
	if got := len(RoleServer.Magic()); got != protocol.ServerMagicLen {
		t.Errorf("server magic length = %d", got)
	}
	if got := len(RoleClient.Magic()); got != protocol.ClientMagicLen {
		t.Errorf("client magic length = %d", got)
	}
	if RoleServer.ExpectedMagicLen() != protocol.ClientMagicLen || RoleClient.ExpectedMagicLen() != protocol.ServerMagicLen {
		t.Errorf("expected magic lengths swapped")
	}
}

func TestClientRoleFeed(t *testing.T) {
	r := newRecorder()
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	c := NewConn(2, client, RoleClient, r)

	reply := protocol.NewPacket(protocol.TypeTaskReply)
	reply.Seq = 1
	b, _ := reply.MarshalBinary()
	c.Feed(append(RoleServer.Magic(), b...))
	if len(r.magics) != 1 || len(r.magics[0]) != protocol.ServerMagicLen {
		t.Fatalf("magics = %v", r.magics)
	}
	if len(r.packets) != 1 || r.packets[0].Seq != 1 {
		t.Errorf("packets = %v", r.packets)
	}
}
