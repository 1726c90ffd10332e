package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/phxd-project/phxd/internal/config"
	"github.com/phxd-project/phxd/internal/db"
	"github.com/phxd-project/phxd/internal/events"
	"github.com/phxd-project/phxd/internal/metrics"
	intnet "github.com/phxd-project/phxd/internal/network"
	"github.com/phxd-project/phxd/internal/server"
	"github.com/phxd-project/phxd/internal/transfer"
	"github.com/phxd-project/phxd/internal/util"
)

// Hotline is the part of the chat server the API manages.
type Hotline interface {
	Users() []server.UserInfo
	UserCount() int
	Uptime() time.Duration
	Broadcast(msg string)
	Kick(uid uint16, ban bool) error
	Ban(addr, reason string, d time.Duration) error
	Transfers() *transfer.Registry
}

// Options carries the collaborators of the API server.
type Options struct {
	Hotline Hotline
	Store   db.Store
	Bus     *events.EventBus
	Metrics *metrics.Metrics
	Version string
}

// Server is the admin REST API.
type Server struct {
	cfg     *config.Config
	hotline Hotline
	store   db.Store
	bus     *events.EventBus
	metrics *metrics.Metrics
	version string
	logger  zerolog.Logger

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates an API server and builds its routes.
func NewServer(cfg *config.Config, opts Options) *Server {
	if cfg.GetLogging().Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		hotline: opts.Hotline,
		store:   opts.Store,
		bus:     opts.Bus,
		metrics: opts.Metrics,
		version: opts.Version,
		logger:  util.ComponentLogger("api"),
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ac := s.cfg.GetAPI()
	addr := net.JoinHostPort(ac.Bind, strconv.Itoa(ac.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if ac.TLS {
		if err := util.EnsureCertificate(ac.CertFile, ac.KeyFile, []string{ac.Bind, "localhost"}); err != nil {
			return fmt.Errorf("prepare API certificate: %w", err)
		}
		cert, err := tls.LoadX509KeyPair(ac.CertFile, ac.KeyFile)
		if err != nil {
			return fmt.Errorf("load API certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}
	if s.httpServer.TLSConfig != nil {
		ln = tls.NewListener(ln, s.httpServer.TLSConfig)
	}

	s.logger.Info().Str("addr", addr).Bool("tls", ac.TLS).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	ac := s.cfg.GetAPI()
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.logger))
	router.Use(SecurityHeaders())

	allowedOrigins := ac.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(ac.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	auth := NewAuthMiddleware(s.store)

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/server_info", s.handleGetServerInfo)
	}

	protected := router.Group("/api")
	protected.Use(auth.RequireAuth())

	monitor := protected.Group("/monitor")
	monitor.Use(auth.RequirePermission(PermMonitor))
	{
		monitor.GET("/users", s.handleGetUsers)
		monitor.GET("/transfers", s.handleGetTransfers)
		monitor.GET("/events", s.handleEvents)
		monitor.GET("/system", s.handleGetSystem)
	}

	control := protected.Group("/control")
	control.Use(auth.RequirePermission(PermControl))
	{
		control.POST("/broadcast", s.handleBroadcast)
		control.POST("/kick/:uid", s.handleKick)
	}

	configure := protected.Group("/configure")
	configure.Use(auth.RequirePermission(PermConfigure))
	{
		configure.GET("/accounts", s.handleGetAccounts)
		configure.POST("/accounts", s.handleSaveAccount)
		configure.DELETE("/accounts/:login", s.handleDeleteAccount)
		configure.GET("/bans", s.handleGetBans)
		configure.POST("/bans", s.handleAddBan)
		configure.DELETE("/bans/:addr", s.handleDeleteBan)
	}

	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "phxd admin API is running"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
