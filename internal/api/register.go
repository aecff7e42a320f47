package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Guizzs26/hff-sync/internal/ingest"
	"github.com/Guizzs26/hff-sync/internal/mapper"
	"github.com/Guizzs26/hff-sync/internal/models"
	"github.com/Guizzs26/hff-sync/internal/service"
	"github.com/Guizzs26/hff-sync/pkg/metrics"

	"github.com/gin-gonic/gin"
)

type registerUpload struct {
	Rows [][]string `json:"rows" binding:"required"`
}

type rowFailure struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// handleRegisterUpload parses a full register grid and stores every valid
// participant under its deterministic uuid. Uploading the same sheet twice
// updates the same records.
func (s *Server) handleRegisterUpload(c *gin.Context) {
	var body registerUpload
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected {\"rows\": [[...], ...]}"})
		return
	}

	reg, err := s.parser.Parse(body.Rows)
	if err != nil {
		if errors.Is(err, ingest.ErrFileTooShort) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	metrics.RegisterRows.WithLabelValues("skipped").Add(float64(len(reg.SkippedRows)))

	ctx := c.Request.Context()
	now := models.Now()
	var stored, unchanged int
	failures := []rowFailure{}

	for _, p := range reg.Participants {
		payload, err := json.Marshal(p)
		if err != nil {
			failures = append(failures, rowFailure{ID: p.ID, Name: p.FirstName, Reason: err.Error()})
			continue
		}

		applied, err := s.applier.Apply(ctx, models.RemoteRecord{
			UUID:      ingest.ParticipantUUID(p),
			UpdatedAt: now,
			Payload:   payload,
		})
		if err != nil {
			var rej *service.RejectionError
			if !errors.As(err, &rej) {
				s.logger.Error("Register upload aborted: store unavailable", "error", err, "stored", stored)
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable", "stored": stored})
				return
			}
			failures = append(failures, rowFailure{ID: p.ID, Name: p.FirstName, Reason: rej.Reason})
			continue
		}

		metrics.RegisterRows.WithLabelValues("accepted").Inc()
		if applied {
			stored++
		} else {
			unchanged++
		}
	}

	s.logger.Info("Register uploaded",
		"participants", len(reg.Participants),
		"stored", stored,
		"skipped", len(reg.SkippedRows),
		"failed", len(failures),
	)

	c.JSON(http.StatusOK, gin.H{
		"register":  reg,
		"stored":    stored,
		"unchanged": unchanged,
		"failures":  failures,
	})
}

func (s *Server) handleRegisterExport(c *gin.Context) {
	records, err := s.store.ListAll(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to list registrations for export", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}

	participants := s.sheets.Participants(records)
	grid, err := s.sheets.BuildGrid(participants, ingest.CampaignDatesOf(participants))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	filename := fmt.Sprintf("register-%s.csv", time.Now().UTC().Format("20060102"))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Status(http.StatusOK)

	if err := mapper.WriteCSV(c.Writer, grid); err != nil {
		s.logger.Error("Failed to stream register export", "error", err)
	}
}

func (s *Server) handleStats(c *gin.Context) {
	ctx := c.Request.Context()

	if s.cache != nil {
		stats, ok, err := s.cache.Get(ctx)
		switch {
		case err != nil:
			metrics.StatsCache.WithLabelValues("error").Inc()
			s.logger.Warn("Stats cache unavailable, computing directly", "error", err)
		case ok:
			metrics.StatsCache.WithLabelValues("hit").Inc()
			c.JSON(http.StatusOK, stats)
			return
		default:
			metrics.StatsCache.WithLabelValues("miss").Inc()
		}
	}

	records, err := s.store.ListAll(ctx)
	if err != nil {
		s.logger.Error("Failed to list registrations for stats", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}

	participants := s.sheets.Participants(records)
	stats := ingest.ComputeAnalytics(participants, ingest.CampaignDatesOf(participants))

	if s.cache != nil {
		if err := s.cache.Set(ctx, stats); err != nil {
			s.logger.Warn("Failed to cache stats", "error", err)
		}
	}

	c.JSON(http.StatusOK, stats)
}
