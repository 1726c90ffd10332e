package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/phxd-project/phxd/internal/events"
	"github.com/phxd-project/phxd/internal/util"
)

const (
	eventQueueSize = 64
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var subscriberSeq atomic.Uint64

func (s *Server) handleGetUsers(c *gin.Context) {
	users := s.hotline.Users()
	c.JSON(http.StatusOK, gin.H{
		"users": users,
		"total": len(users),
	})
}

func (s *Server) handleGetTransfers(c *gin.Context) {
	list := s.hotline.Transfers().List()
	out := make([]events.TransferPayload, 0, len(list))
	for _, t := range list {
		out = append(out, t.Payload())
	}
	c.JSON(http.StatusOK, gin.H{
		"transfers": out,
		"total":     len(out),
	})
}

// handleGetSystem reports host load next to the server's own usage.
func (s *Server) handleGetSystem(c *gin.Context) {
	resp := gin.H{"info": util.GetSystemInfo()}
	if mem, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = mem
	}
	if cpu, err := util.GetCPUUsage(); err == nil {
		resp["cpu_percent"] = cpu
	}
	if disk, err := util.GetDiskUsage(s.cfg.GetFiles().Root); err == nil {
		resp["files_disk"] = disk
	}
	c.JSON(http.StatusOK, resp)
}

// handleEvents streams bus events as JSON over a websocket. The optional
// "types" query parameter is a comma separated list of event types.
func (s *Server) handleEvents(c *gin.Context) {
	filter := make(map[events.EventType]bool)
	for _, t := range strings.Split(c.Query("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[events.EventType(t)] = true
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	queue := make(chan events.Event, eventQueueSize)
	name := "api.ws." + loginFrom(c) + "." + strconv.FormatUint(subscriberSeq.Add(1), 10)
	s.bus.SubscribeAll(name, func(ctx context.Context, e events.Event) error {
		if len(filter) > 0 && !filter[e.Type] {
			return nil
		}
		select {
		case queue <- e:
		default:
		}
		return nil
	})
	defer s.bus.UnsubscribeAll(name)

	s.logger.Info().Str("login", loginFrom(c)).Int("types", len(filter)).Msg("event stream opened")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-s.bus.StopCh():
			return
		case e := <-queue:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
