package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Guizzs26/hff-sync/internal/api"
	"github.com/Guizzs26/hff-sync/internal/config"
	"github.com/Guizzs26/hff-sync/internal/db"
	"github.com/Guizzs26/hff-sync/internal/ingest"
	"github.com/Guizzs26/hff-sync/internal/processor"
	"github.com/Guizzs26/hff-sync/pkg/infra"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if strings.ToUpper(cfg.LogLevel) != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("🔥 Register server initializing...", "port", cfg.APIPort)

	repo, err := db.NewPostgresRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("CRITICAL: Postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Error("CRITICAL: schema migration failed", "error", err)
		os.Exit(1)
	}

	layout, err := ingest.LoadLayout(cfg.LayoutFile)
	if err != nil {
		logger.Error("CRITICAL: register layout invalid", "file", cfg.LayoutFile, "error", err)
		os.Exit(1)
	}

	// The stats cache is optional; without Redis stats are computed per request
	var (
		cache       api.StatsCache
		invalidator processor.Invalidator
	)
	if cfg.RedisAddr != "" {
		redis := db.NewStatsCache(cfg.RedisAddr, cfg.StatsTTL)
		defer redis.Close()
		if !redis.Healthy(ctx) {
			logger.Warn("Redis not reachable at startup, stats will be computed until it recovers", "addr", cfg.RedisAddr)
		}
		cache = redis
		invalidator = redis
	}

	handler := processor.NewRegistrationHandler(repo, invalidator, logger)
	server := api.NewServer(repo, handler, cache, api.Options{
		SigningKey: cfg.SigningKey,
		Issuer:     cfg.JWTIssuer,
		Layout:     layout,
	}, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		logger.Info("🚀 Register server online", "url", "http://localhost:"+cfg.APIPort+"/api/health")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("CRITICAL: HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("👋 Shutting down register server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
	}

	logger.Info("✅ Shutdown complete")
}
