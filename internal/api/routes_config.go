package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/phxd-project/phxd/internal/db"
)

// accountRequest is the body of an account create or update. An empty
// password keeps the stored one.
type accountRequest struct {
	Login    string  `json:"login" binding:"required"`
	Password string  `json:"password"`
	Name     string  `json:"name"`
	Privs    *uint64 `json:"privs"`
}

func (s *Server) handleGetAccounts(c *gin.Context) {
	accounts, err := s.store.ListAccounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if accounts == nil {
		accounts = []db.Account{}
	}
	c.JSON(http.StatusOK, gin.H{
		"accounts": accounts,
		"total":    len(accounts),
	})
}

// handleSaveAccount creates the account or updates the fields given.
func (s *Server) handleSaveAccount(c *gin.Context) {
	var body accountRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	acct, err := s.store.LoadAccount(body.Login)
	created := errors.Is(err, db.ErrNotFound)
	switch {
	case created:
		acct = &db.Account{Login: body.Login, Password: db.HashPassword(body.Password)}
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	case body.Password != "":
		acct.Password = db.HashPassword(body.Password)
	}
	if body.Name != "" || created {
		acct.Name = body.Name
	}
	if body.Privs != nil {
		acct.Privs = *body.Privs
	}

	if err := s.store.SaveAccount(acct); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.logger.Info().Str("login", loginFrom(c)).Str("account", acct.Login).Bool("created", created).Msg("API: account saved")
	c.JSON(status, gin.H{
		"status":  "saved",
		"account": acct,
	})
}

func (s *Server) handleDeleteAccount(c *gin.Context) {
	login := c.Param("login")
	if login == loginFrom(c) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete the account in use"})
		return
	}
	err := s.store.DeleteAccount(login)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found", "login": login})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info().Str("login", loginFrom(c)).Str("account", login).Msg("API: account deleted")
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "login": login})
}

func (s *Server) handleGetBans(c *gin.Context) {
	bans, err := s.store.ListBans()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if bans == nil {
		bans = []db.Ban{}
	}
	c.JSON(http.StatusOK, gin.H{
		"bans":  bans,
		"total": len(bans),
	})
}

// handleAddBan bans an address and disconnects its sessions. A zero
// duration bans permanently.
func (s *Server) handleAddBan(c *gin.Context) {
	var body struct {
		Address  string `json:"address" binding:"required"`
		Reason   string `json:"reason"`
		Duration string `json:"duration"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var d time.Duration
	if body.Duration != "" {
		var err error
		if d, err = time.ParseDuration(body.Duration); err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid duration"})
			return
		}
	}

	if err := s.hotline.Ban(body.Address, body.Reason, d); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info().Str("login", loginFrom(c)).Str("address", body.Address).Dur("duration", d).Msg("API: address banned")
	c.JSON(http.StatusCreated, gin.H{"status": "banned", "address": body.Address})
}

func (s *Server) handleDeleteBan(c *gin.Context) {
	addr := c.Param("addr")
	err := s.store.RemoveBan(addr)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "ban not found", "address": addr})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed", "address": addr})
}
