package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Default accept limits.
const (
	DefaultMaxConnPerSec = 10
	DefaultMaxConns      = 500
)

// ListenerConfig configures one control port and its transfer port.
type ListenerConfig struct {
	Bind          string
	Port          int
	MaxConnPerSec int // new connections per second per source IP
	MaxConns      int // concurrent connections across both ports
	MaxPacketSize int // largest packet body accepted on control connections
}

// Listener accepts control connections on Port and transfer connections
// on Port+1.
type Listener struct {
	cfg     ListenerConfig
	handler Handler
	matcher TransferMatcher
	logger  zerolog.Logger

	limiter *rateTracker
	active  atomic.Int32
	nextID  *atomic.Uint64
	wg      sync.WaitGroup
}

// NewListener creates a listener. ids is shared by every listener of a
// server so connection numbers stay unique across ports.
func NewListener(cfg ListenerConfig, h Handler, m TransferMatcher, ids *atomic.Uint64) *Listener {
	if cfg.MaxConnPerSec <= 0 {
		cfg.MaxConnPerSec = DefaultMaxConnPerSec
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	if ids == nil {
		ids = new(atomic.Uint64)
	}
	return &Listener{
		cfg:     cfg,
		handler: h,
		matcher: m,
		limiter: newRateTracker(cfg.MaxConnPerSec),
		nextID:  ids,
		logger:  log.With().Str("component", "listener").Int("port", cfg.Port).Logger(),
	}
}

// Start binds both ports and serves until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	lc := ReuseAddrListenConfig()

	ctrlAddr := net.JoinHostPort(l.cfg.Bind, fmt.Sprint(l.cfg.Port))
	ctrl, err := lc.Listen(ctx, "tcp", ctrlAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ctrlAddr, err)
	}
	xferAddr := net.JoinHostPort(l.cfg.Bind, fmt.Sprint(l.cfg.Port+1))
	xfer, err := lc.Listen(ctx, "tcp", xferAddr)
	if err != nil {
		ctrl.Close()
		return fmt.Errorf("failed to listen on %s: %w", xferAddr, err)
	}
	return l.Serve(ctx, ctrl, xfer)
}

// Serve accepts on already bound listeners until ctx is cancelled, then
// waits for every connection to finish.
func (l *Listener) Serve(ctx context.Context, ctrl, xfer net.Listener) error {
	l.logger.Info().
		Str("control", ctrl.Addr().String()).
		Str("transfer", xfer.Addr().String()).
		Msg("listener started")

	go func() {
		<-ctx.Done()
		ctrl.Close()
		xfer.Close()
	}()

	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		l.acceptLoop(ctx, ctrl, func(id uint64, nc net.Conn) {
			c := NewConn(id, nc, RoleServer, l.handler)
			c.SetMaxPacketSize(l.cfg.MaxPacketSize)
			c.Serve(ctx)
		})
	}()
	go func() {
		defer loops.Done()
		l.acceptLoop(ctx, xfer, func(id uint64, nc net.Conn) {
			NewTransferConn(id, nc, l.matcher).Serve(ctx)
		})
	}()
	loops.Wait()
	l.wg.Wait()
	l.logger.Info().Msg("listener stopped")
	return nil
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener, serve func(uint64, net.Conn)) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Error().Err(err).Msg("failed to accept connection")
			time.Sleep(50 * time.Millisecond)
			continue
		}

		src := extractIP(nc.RemoteAddr())
		if !l.limiter.allow(src) {
			l.logger.Warn().Str("src", src).Msg("connection rate exceeded, dropping")
			nc.Close()
			continue
		}
		if int(l.active.Load()) >= l.cfg.MaxConns {
			l.logger.Warn().Str("src", src).Msg("too many connections, dropping")
			nc.Close()
			continue
		}

		l.active.Add(1)
		l.wg.Add(1)
		id := l.nextID.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.active.Add(-1)
			serve(id, nc)
		}()
	}
}

// Active returns the number of open connections on both ports.
func (l *Listener) Active() int {
	return int(l.active.Load())
}

// rateTracker counts new connections per source IP in one second windows.
type rateTracker struct {
	mu        sync.Mutex
	counts    map[string]*rateBucket
	maxPerSec int
}

type rateBucket struct {
	count       int
	windowStart time.Time
}

func newRateTracker(maxPerSec int) *rateTracker {
	return &rateTracker{
		counts:    make(map[string]*rateBucket),
		maxPerSec: maxPerSec,
	}
}

func (rt *rateTracker) allow(ip string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := time.Now()
	b, exists := rt.counts[ip]
	if !exists || now.Sub(b.windowStart) >= time.Second {
		rt.counts[ip] = &rateBucket{count: 1, windowStart: now}
		if len(rt.counts) > 4096 {
			rt.prune(now)
		}
		return true
	}

	b.count++
	return b.count <= rt.maxPerSec
}

func (rt *rateTracker) prune(now time.Time) {
	for ip, b := range rt.counts {
		if now.Sub(b.windowStart) >= time.Second {
			delete(rt.counts, ip)
		}
	}
}

func extractIP(addr net.Addr) string {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String()
	case *net.UDPAddr:
		return a.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
