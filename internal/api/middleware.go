// Package api implements the admin REST API of phxd. Requests authenticate
// with HTTP basic auth against the account store, and each route group
// requires a privilege of the authenticated account.
package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/phxd-project/phxd/internal/db"
	"github.com/phxd-project/phxd/internal/server"
)

// Route group permissions, each backed by an account privilege.
var (
	PermMonitor   = server.PermUserInfo
	PermControl   = server.PermKickUsers
	PermConfigure = server.PermModifyUsers
)

const accountKey = "account"

// AuthMiddleware checks basic auth credentials against the account store.
type AuthMiddleware struct {
	store db.Store
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(store db.Store) *AuthMiddleware {
	return &AuthMiddleware{store: store}
}

// RequireAuth rejects requests without valid credentials and stores the
// account in the context.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		login, password, ok := c.Request.BasicAuth()
		if !ok {
			c.Header("WWW-Authenticate", `Basic realm="phxd"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or invalid authorization header",
			})
			return
		}

		acct, err := am.store.LoadAccount(login)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "account lookup failed",
			})
			return
		}
		if acct == nil || !acct.CheckPassword(password) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid credentials",
			})
			return
		}

		c.Set(accountKey, acct)
		c.Next()
	}
}

// RequirePermission rejects accounts lacking perm.
func (am *AuthMiddleware) RequirePermission(perm server.Perm) gin.HandlerFunc {
	return func(c *gin.Context) {
		acct := accountFrom(c)
		if acct == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}
		if !acct.HasPriv(perm.Mask()) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    "insufficient permissions",
				"required": perm.Name,
			})
			return
		}
		c.Next()
	}
}

func accountFrom(c *gin.Context) *db.Account {
	v, ok := c.Get(accountKey)
	if !ok {
		return nil
	}
	acct, _ := v.(*db.Account)
	return acct
}

// loginFrom names the caller in log lines.
func loginFrom(c *gin.Context) string {
	if acct := accountFrom(c); acct != nil {
		return acct.Login
	}
	return ""
}

// RateLimiter implements a simple token bucket rate limiter.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	rate    int
	burst   int
}

type clientBucket struct {
	tokens    float64
	lastCheck time.Time
}

// NewRateLimiter creates a rate limiter with the specified requests per second.
func NewRateLimiter(rps int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientBucket),
		rate:    rps,
		burst:   rps * 2,
	}
}

// Middleware returns a Gin middleware that rate limits by client IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rate <= 0 {
			c.Next()
			return
		}
		if !rl.allow(c.ClientIP(), time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(ip string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, exists := rl.clients[ip]
	if !exists {
		bucket = &clientBucket{tokens: float64(rl.burst), lastCheck: now}
		rl.clients[ip] = bucket
	}

	bucket.tokens += now.Sub(bucket.lastCheck).Seconds() * float64(rl.rate)
	if bucket.tokens > float64(rl.burst) {
		bucket.tokens = float64(rl.burst)
	}
	bucket.lastCheck = now

	if bucket.tokens < 1 {
		return false
	}
	bucket.tokens--
	return true
}

// SecurityHeaders adds security-related HTTP headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("Server", "phxd")
		c.Next()
	}
}

// RequestLogger logs incoming HTTP requests.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("api request")
	}
}
