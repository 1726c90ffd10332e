// Package server implements the Hotline session layer: the user directory,
// packet dispatch and the transaction handlers.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/phxd-project/phxd/internal/config"
	"github.com/phxd-project/phxd/internal/db"
	"github.com/phxd-project/phxd/internal/events"
	"github.com/phxd-project/phxd/internal/metrics"
	"github.com/phxd-project/phxd/internal/network"
	"github.com/phxd-project/phxd/internal/protocol"
	"github.com/phxd-project/phxd/internal/transfer"
	"github.com/phxd-project/phxd/internal/util"
)

const tracerName = "github.com/phxd-project/phxd/internal/server"

// session is the outbound side of a control connection.
type session interface {
	Send(p *protocol.Packet) error
	CloseAfterFlush()
	Close() error
}

// Options carries the collaborators of a Server. Store is required; the
// others are created when nil.
type Options struct {
	Store     db.Store
	Bus       *events.EventBus
	Metrics   *metrics.Metrics
	Transfers *transfer.Registry
}

// Server owns every session. All mutation of users, chats and handler
// state happens with mu held.
type Server struct {
	mu sync.Mutex

	cfg     *config.Config
	store   db.Store
	bus     *events.EventBus
	xfers   *transfer.Registry
	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  zerolog.Logger

	ctx         context.Context
	startTime   time.Time
	clients     map[uint64]*User
	byUID       map[uint16]*User
	lastUID     uint16
	chats       map[uint32]*Chat
	lastChatID  uint32
	tempBans    map[string]tempBan
	defaultIcon []byte
	handlers    map[uint32]PacketHandler
	commands    map[string]Command
	chatlog     *ChatLog
}

var _ network.Handler = (*Server)(nil)

// New creates a server. It does not listen until Run is called.
func New(cfg *config.Config, opts Options) *Server {
	if opts.Bus == nil {
		opts.Bus = events.NewEventBus()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Transfers == nil {
		opts.Transfers = transfer.NewRegistry(cfg.TransferTimeout(), opts.Bus)
	}
	s := &Server{
		cfg:       cfg,
		store:     opts.Store,
		bus:       opts.Bus,
		xfers:     opts.Transfers,
		metrics:   opts.Metrics,
		tracer:    otel.Tracer(tracerName),
		logger:    util.ComponentLogger("server"),
		ctx:       context.Background(),
		startTime: time.Now(),
		clients:   make(map[uint64]*User),
		byUID:     make(map[uint16]*User),
		chats:     make(map[uint32]*Chat),
		tempBans:  make(map[string]tempBan),
	}
	s.handlers = s.packetHandlers()
	s.commands = s.chatCommands()
	s.loadDefaultIcon()
	s.subscribeEvents()
	return s
}

// Transfers returns the transfer registry.
func (s *Server) Transfers() *transfer.Registry {
	return s.xfers
}

// Bus returns the event bus.
func (s *Server) Bus() *events.EventBus {
	return s.bus
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// Store returns the account store.
func (s *Server) Store() db.Store {
	return s.store
}

// Config returns the server configuration.
func (s *Server) Config() *config.Config {
	return s.cfg
}

// StartTime returns when Run was called.
func (s *Server) StartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startTime
}

// Uptime returns the time since Run was called.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.StartTime())
}

// Run listens on every configured port and its transfer port until ctx
// is cancelled. A bind failure on any port stops the others.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.ctx = ctx
	s.startTime = time.Now()
	s.mu.Unlock()

	srv := s.cfg.GetServer()
	if len(srv.Ports) == 0 {
		return errors.New("no ports configured")
	}

	var ids atomic.Uint64
	var wg sync.WaitGroup
	errCh := make(chan error, len(srv.Ports))
	for _, port := range srv.Ports {
		l := network.NewListener(network.ListenerConfig{
			Bind:          srv.Bind,
			Port:          port,
			MaxConnPerSec: srv.MaxConnPerSec,
			MaxConns:      srv.MaxConns,
			MaxPacketSize: srv.MaxPacketSize,
		}, s, s.xfers, &ids)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Start(ctx); err != nil {
				errCh <- err
				cancel()
			}
		}()
	}

	s.logger.Info().Ints("ports", srv.Ports).Str("name", srv.Name).Msg("server started")
	wg.Wait()
	close(errCh)
	s.closeChatLog()
	s.logger.Info().Msg("server stopped")
	return <-errCh
}

// ConnectionOpened registers a new session.
func (s *Server) ConnectionOpened(c *network.Conn) {
	s.connect(c.ID(), c.Host(), c)
}

// MagicReceived drops peers that do not speak Hotline.
func (s *Server) MagicReceived(c *network.Conn, magic []byte) {
	m, err := protocol.ParseClientMagic(magic)
	valid := err == nil && m.Valid()
	s.bus.Publish(events.EventMagicReceived, "server", events.MagicPayload{
		ConnID: c.ID(),
		Addr:   c.Host(),
		Magic:  magic,
		Valid:  valid,
	})
	if !valid {
		c.Logger().Debug().Hex("magic", magic).Msg("incorrect magic")
		c.Close()
	}
}

// PacketReceived dispatches one packet.
func (s *Server) PacketReceived(c *network.Conn, p *protocol.Packet) {
	s.receive(c.ID(), p)
}

// ConnectionLost releases the session.
func (s *Server) ConnectionLost(c *network.Conn, err error) {
	if err != nil {
		c.Logger().Debug().Err(err).Msg("connection lost")
	}
	s.disconnect(c.ID())
}

func (s *Server) connect(id uint64, addr string, conn session) *User {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastUID++
	for s.lastUID == 0 || s.byUID[s.lastUID] != nil {
		s.lastUID++
	}
	u := newUser(s.lastUID, addr, conn)
	s.clients[id] = u
	s.byUID[u.UID] = u
	s.metrics.ConnectionOpened()
	s.bus.Publish(events.EventConnectionOpened, "server", events.ConnectionPayload{ConnID: id, UID: u.UID, Addr: addr})
	return u
}

func (s *Server) disconnect(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.clients[id]
	if !ok {
		return
	}
	delete(s.clients, id)
	delete(s.byUID, u.UID)

	if u.Valid {
		u.Valid = false
		leave := protocol.NewPacket(protocol.TypeServerUserLeave)
		leave.AddNumber(protocol.DataUID, uint64(u.UID))
		s.sendAll(leave)
		s.bus.Publish(events.EventUserLeave, "server", u.payload())
		s.logger.Info().Str("user", u.String()).Msg("user left")
	}
	s.leaveChats(u)
	s.metrics.SetUsersOnline(len(s.users()))
	s.bus.Publish(events.EventConnectionClosed, "server", events.ConnectionPayload{ConnID: id, UID: u.UID, Addr: u.Addr})
}

func (s *Server) receive(id uint64, p *protocol.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.clients[id]
	if !ok {
		return
	}
	s.bus.Publish(events.EventPacketReceived, "server", events.PacketPayload{
		UID:     u.UID,
		Kind:    p.Kind,
		Seq:     p.Seq,
		Objects: p.Count(),
	})
	if !protocol.IsPing(p.Kind) {
		u.LastPacket = time.Now()
		if u.Valid && uint64(u.Status)&protocol.StatusAway != 0 {
			u.Away = false
			u.setStatus(protocol.StatusAway, false)
			s.sendUserChange(u, false)
		}
	}
	s.dispatch(u, p)
}

// users returns the logged in users ordered by uid.
func (s *Server) users() []*User {
	out := make([]*User, 0, len(s.byUID))
	for _, u := range s.byUID {
		if u.Valid {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

func (s *Server) userByUID(uid uint16) *User {
	return s.byUID[uid]
}

// Users returns a snapshot of the logged in users.
func (s *Server) Users() []UserInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []UserInfo
	for _, u := range s.users() {
		out = append(out, UserInfo{
			UID:       u.UID,
			Nick:      u.Nick,
			Login:     u.Login(),
			Addr:      u.Addr,
			Icon:      u.Icon,
			Status:    u.Status,
			Idle:      util.FormatElapsed(now.Sub(u.LastPacket)),
			LoginTime: u.LoginTime,
		})
	}
	return out
}

// UserCount returns the number of logged in users.
func (s *Server) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users())
}

func (s *Server) sendTo(p *protocol.Packet, users ...*User) {
	for _, u := range users {
		if u == nil || u.conn == nil {
			continue
		}
		if err := u.conn.Send(p); err != nil {
			s.logger.Debug().Err(err).Uint16("uid", u.UID).Uint32("type", p.Kind).Msg("send failed")
		}
	}
}

func (s *Server) sendUID(p *protocol.Packet, uid uint16) {
	s.sendTo(p, s.userByUID(uid))
}

func (s *Server) sendFiltered(p *protocol.Packet, pred func(*User) bool) {
	for _, u := range s.users() {
		if pred(u) {
			s.sendTo(p, u)
		}
	}
}

func (s *Server) sendAll(p *protocol.Packet) {
	s.sendFiltered(p, func(*User) bool { return true })
}

// sendUserChange announces a user's nick, icon, status and color to every
// logged in user.
func (s *Server) sendUserChange(u *User, join bool) {
	change := protocol.NewPacket(protocol.TypeServerUserChange)
	change.AddNumber(protocol.DataUID, uint64(u.UID))
	change.AddString(protocol.DataNick, u.Nick)
	change.AddNumber(protocol.DataIcon, uint64(u.Icon))
	change.AddNumber(protocol.DataStatus, uint64(u.Status))
	if u.Color >= 0 {
		change.AddNumberBits(protocol.DataColor, uint64(u.Color), 32)
	}
	if join {
		change.AddNumber(protocol.DataJoin, 1)
	}
	s.sendAll(change)
}

// Broadcast sends an administrator message to every logged in user.
func (s *Server) Broadcast(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcast(msg)
}

func (s *Server) broadcast(msg string) {
	p := protocol.NewPacket(protocol.TypeServerBroadcast)
	p.AddString(protocol.DataString, msg)
	s.sendAll(p)
	s.bus.Publish(events.EventBroadcast, "server", events.ChatPayload{Text: msg})
}

// Kick disconnects a user, optionally banning the address temporarily.
func (s *Server) Kick(uid uint16, ban bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	who := s.userByUID(uid)
	if who == nil || !who.Valid {
		return fmt.Errorf("uid %d: %w", uid, db.ErrNotFound)
	}
	s.disconnectUser(who, ban, "admin")
	return nil
}

func (s *Server) disconnectUser(who *User, ban bool, by string) {
	if ban {
		s.addTempBan(who.Addr, "Temporary ban.")
	}
	who.conn.Close()
	s.bus.Publish(events.EventUserKicked, "server", who.payload())
	s.logger.Info().Str("user", who.String()).Str("by", by).Bool("ban", ban).Msg("user disconnected")
}

// TrackerUpdate builds the registration datagram for trackers.
func (s *Server) TrackerUpdate() network.TrackerUpdate {
	srv := s.cfg.GetServer()
	tr := s.cfg.GetTracker()
	s.mu.Lock()
	defer s.mu.Unlock()
	var port uint16
	if len(srv.Ports) > 0 {
		port = uint16(srv.Ports[0])
	}
	return network.TrackerUpdate{
		Port:        port,
		Users:       uint16(len(s.users())),
		ServerID:    uint32(s.startTime.Unix()),
		Name:        srv.Name,
		Description: srv.Description,
		Password:    tr.Password,
	}
}

// CheckIdle marks users silent for longer than the idle time as away.
func (s *Server) CheckIdle(now time.Time) int {
	idle := s.cfg.IdleTime()
	if idle <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.users() {
		if now.Sub(u.LastPacket) > idle && uint64(u.Status)&protocol.StatusAway == 0 {
			u.setStatus(protocol.StatusAway, true)
			s.sendUserChange(u, false)
			n++
		}
	}
	return n
}

func (s *Server) loadDefaultIcon() {
	path := s.cfg.GetIcons().DefaultIconPath
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("failed to read default icon")
		return
	}
	if err := s.verifyIcon(data); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("default icon rejected")
		return
	}
	s.defaultIcon = data
}

// ApplyDefaultIcons gives the default icon to users that have been logged
// in for the configured time without setting one.
func (s *Server) ApplyDefaultIcons(now time.Time) int {
	wait := s.cfg.DefaultIconTime()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.defaultIcon) == 0 {
		return 0
	}
	n := 0
	for _, u := range s.users() {
		if len(u.Gif) == 0 && now.Sub(u.LoginTime) >= wait {
			u.Gif = s.defaultIcon
			s.sendIconChange(u)
			n++
		}
	}
	return n
}

func (s *Server) subscribeEvents() {
	s.bus.Subscribe(events.EventTransferStarted, "server.metrics", func(ctx context.Context, e events.Event) error {
		s.metrics.TransferStarted()
		return nil
	})
	finished := func(outcome string) events.HandlerFunc {
		return func(ctx context.Context, e events.Event) error {
			if p, ok := e.Payload.(events.TransferPayload); ok {
				s.metrics.TransferFinished(p.Incoming, outcome, p.Transferred, p.Started)
			}
			return nil
		}
	}
	s.bus.Subscribe(events.EventTransferCompleted, "server.metrics", finished("completed"))
	s.bus.Subscribe(events.EventTransferAborted, "server.metrics", finished("aborted"))
	s.bus.Subscribe(events.EventTransferTimedOut, "server.metrics", finished("timed_out"))

	if dir := s.cfg.GetChat().LogDir; dir != "" {
		s.chatlog = NewChatLog(dir)
		s.chatlog.Subscribe(s.bus)
	}
}

func (s *Server) closeChatLog() {
	if s.chatlog != nil {
		s.chatlog.Close()
	}
}
