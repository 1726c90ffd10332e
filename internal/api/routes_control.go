package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/phxd-project/phxd/internal/db"
)

// handleBroadcast sends an administrator message to every user.
func (s *Server) handleBroadcast(c *gin.Context) {
	var body struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	s.hotline.Broadcast(body.Message)
	s.logger.Info().Str("login", loginFrom(c)).Msg("API: broadcast sent")

	c.JSON(http.StatusOK, gin.H{
		"status":  "sent",
		"message": body.Message,
	})
}

// handleKick disconnects a user, banning the address temporarily when
// the "ban" query parameter is true.
func (s *Server) handleKick(c *gin.Context) {
	uid, err := parseUID(c)
	if err != nil {
		return
	}
	ban, _ := strconv.ParseBool(c.DefaultQuery("ban", "false"))

	err = s.hotline.Kick(uid, ban)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found", "uid": uid})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info().Str("login", loginFrom(c)).Uint16("uid", uid).Bool("ban", ban).Msg("API: user kicked")
	c.JSON(http.StatusOK, gin.H{
		"status": "kicked",
		"uid":    uid,
		"ban":    ban,
	})
}

// parseUID extracts and validates the uid parameter from the URL.
func parseUID(c *gin.Context) (uint16, error) {
	uid, err := strconv.ParseUint(c.Param("uid"), 10, 16)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uid"})
		return 0, err
	}
	return uint16(uid), nil
}
