package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/phxd-project/phxd/internal/util"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "phxd",
		"version": s.version,
	})
}

// handleGetServerInfo returns what a tracker listing would show plus the
// host platform.
func (s *Server) handleGetServerInfo(c *gin.Context) {
	srv := s.cfg.GetServer()
	sysInfo := util.GetSystemInfo()

	c.JSON(http.StatusOK, gin.H{
		"name":        srv.Name,
		"description": srv.Description,
		"ports":       srv.Ports,
		"users":       s.hotline.UserCount(),
		"uptime":      util.FormatElapsed(s.hotline.Uptime()),
		"version":     s.version,
		"os":          sysInfo.OS,
		"cpu_cores":   sysInfo.CPUCores,
	})
}
