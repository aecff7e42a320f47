package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/Guizzs26/hff-sync/internal/models"
	"github.com/Guizzs26/hff-sync/internal/service"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleUpsert(c *gin.Context) {
	var rec models.RemoteRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record body: " + err.Error()})
		return
	}

	id := c.Param("uuid")
	if rec.UUID == "" {
		rec.UUID = id
	}
	if rec.UUID != id {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uuid in body does not match path"})
		return
	}

	applied, err := s.applier.Apply(c.Request.Context(), rec)
	if err != nil {
		var rej *service.RejectionError
		if errors.As(err, &rej) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": rej.Reason})
			return
		}
		s.logger.Error("Failed to store registration", "uuid", rec.UUID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"uuid": rec.UUID, "applied": applied})
}

func (s *Server) handleQuerySince(c *gin.Context) {
	since := models.EpochZero
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an RFC 3339 timestamp"})
			return
		}
		since = t
	}

	records, err := s.store.FetchSince(c.Request.Context(), since)
	if err != nil {
		s.logger.Error("Failed to query registrations", "since", since, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}
	if records == nil {
		records = []models.RemoteRecord{}
	}

	c.JSON(http.StatusOK, gin.H{"records": records})
}
