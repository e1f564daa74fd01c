package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/towerlink/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "towerlink",
		"version": s.version,
	})
}

// handleInfo returns host and process information.
func (s *Server) handleInfo(c *gin.Context) {
	resp := gin.H{
		"version":    s.version,
		"uptime_sec": int64(time.Since(s.started).Seconds()),
		"system":     util.GetSystemInfo(),
	}
	if usage, err := util.GetProcessUsage(); err == nil {
		resp["process"] = usage
	}
	c.JSON(http.StatusOK, resp)
}
