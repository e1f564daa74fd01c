package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const maxJournalLimit = 1000

// handleStatus reports the game session and poller state.
func (s *Server) handleStatus(c *gin.Context) {
	resp := gin.H{}

	if s.deps.Invoker != nil {
		resp["session_id"] = s.deps.Invoker.SessionID()
		resp["last_request_id"] = s.deps.Invoker.LastRequestID()
	}
	if sess := s.deps.Session; sess != nil {
		resp["connection"] = gin.H{
			"url":           sess.URL(),
			"connected":     !sess.IsClosed(),
			"connected_at":  sess.ConnectedAt(),
			"last_activity": sess.LastActivity(),
		}
	}
	if s.deps.Poller != nil {
		resp["poller"] = s.deps.Poller.Stats()
	}

	c.JSON(http.StatusOK, resp)
}

// handleSnapshot returns the latest polled game snapshot.
func (s *Server) handleSnapshot(c *gin.Context) {
	if s.deps.Poller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshot poller is disabled"})
		return
	}
	snap := s.deps.Poller.Latest()
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot taken yet"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleJournal returns the newest journal entries.
func (s *Server) handleJournal(c *gin.Context) {
	if s.deps.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal is disabled"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxJournalLimit)
	}

	entries, err := s.deps.Journal.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleJournalStats returns per-outcome and per-command journal totals.
func (s *Server) handleJournalStats(c *gin.Context) {
	if s.deps.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal is disabled"})
		return
	}
	stats, err := s.deps.Journal.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}
