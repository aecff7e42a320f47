package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Guizzs26/hff-sync/internal/auth"
	"github.com/Guizzs26/hff-sync/internal/ingest"
	"github.com/Guizzs26/hff-sync/internal/mapper"
	"github.com/Guizzs26/hff-sync/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store reads the server-side registrations
type Store interface {
	FetchSince(ctx context.Context, since time.Time) ([]models.RemoteRecord, error)
	ListAll(ctx context.Context) ([]models.RemoteRecord, error)
	Ping(ctx context.Context) error
}

// Applier validates and writes one registration
type Applier interface {
	Apply(ctx context.Context, rec models.RemoteRecord) (bool, error)
}

// StatsCache holds computed analytics between writes
type StatsCache interface {
	Get(ctx context.Context) (models.Analytics, bool, error)
	Set(ctx context.Context, stats models.Analytics) error
}

type Options struct {
	SigningKey string // empty disables device authentication
	Issuer     string
	Layout     ingest.Layout
}

// Server is the HTTP boundary of the server-side store
type Server struct {
	store   Store
	applier Applier
	cache   StatsCache // nil disables caching
	parser  *ingest.Parser
	sheets  *mapper.SheetBuilder
	opts    Options
	logger  *slog.Logger
}

// NewServer falls back to ingest.DefaultLayout when opts carries no layout
func NewServer(store Store, applier Applier, cache StatsCache, opts Options, logger *slog.Logger) *Server {
	if len(opts.Layout.AttendanceCols) == 0 {
		opts.Layout = ingest.DefaultLayout()
	}
	return &Server{
		store:   store,
		applier: applier,
		cache:   cache,
		parser:  ingest.NewParser(opts.Layout),
		sheets:  mapper.NewSheetBuilder(opts.Layout, logger),
		opts:    opts,
		logger:  logger,
	}
}

// Router builds the gin engine with every route
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.logger, "/api/health", "/metrics"))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/api/health", s.handleHealth)
	r.GET("/api/stats", s.handleStats)

	protected := r.Group("/api")
	if s.opts.SigningKey != "" {
		protected.Use(auth.DeviceAuth(s.opts.SigningKey, s.opts.Issuer))
	} else {
		s.logger.Warn("HFF_SIGNING_KEY not set, registration routes are unauthenticated")
	}

	protected.PUT("/registrations/:uuid", s.handleUpsert)
	protected.GET("/registrations", s.handleQuerySince)
	protected.PUT("/register", s.handleRegisterUpload)
	protected.GET("/register/export", s.handleRegisterExport)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("Health check failed: store unreachable", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// requestLogger logs one line per request through slog
func requestLogger(logger *slog.Logger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if skipped[c.Request.URL.Path] {
			return
		}

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if device := auth.DeviceFrom(c); device != "" {
			attrs = append(attrs, "device", device)
		}

		switch {
		case status >= 500:
			logger.Error("HTTP request", attrs...)
		case status >= 400:
			logger.Warn("HTTP request", attrs...)
		default:
			logger.Debug("HTTP request", attrs...)
		}
	}
}
