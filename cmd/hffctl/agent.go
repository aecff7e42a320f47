package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Guizzs26/hff-sync/internal/broker"
	"github.com/Guizzs26/hff-sync/internal/config"
	"github.com/Guizzs26/hff-sync/internal/dashboard"
	"github.com/Guizzs26/hff-sync/internal/ingest"
	"github.com/Guizzs26/hff-sync/internal/service"
	"github.com/Guizzs26/hff-sync/internal/watcher"
	"github.com/Guizzs26/hff-sync/pkg/infra"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the background sync agent",
	Long: `Run the sync agent until interrupted.

The agent probes the register server, pushes pending registrations as soon
as it becomes reachable and on every push interval, and pulls remote changes
on its own interval. A local status endpoint is served on $HFF_STATUS_ADDR:

  GET  /status        queue counts and reachability
  POST /sync          probe, push and pull now
  POST /retry-failed  move failed records back to pending
  GET  /events        WebSocket stream of sync notifications
  GET  /metrics       Prometheus metrics

Optional: $HFF_INBOX_DIR imports dropped register exports, and $RABBITMQ_URL
forwards sync notifications to the hff.sync.events exchange.`,
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStack(cfg, logger)
	if err != nil {
		logger.Error("CRITICAL: local queue unavailable", "path", cfg.LocalDBPath, "error", err)
		return err
	}
	defer st.Close()

	logger.Info("🔥 Sync agent initializing...",
		"device_id", cfg.DeviceID,
		"remote", cfg.RemoteURL,
		"local_db", cfg.LocalDBPath,
		"authenticated", cfg.SigningKey != "",
	)

	workers, err := startWorkers(ctx, cfg, st, logger)
	if err != nil {
		return err
	}

	statusSrv := startStatusServer(ctx, cfg.StatusAddr, st, logger)

	logger.Info("🚀 Sync agent started", "pid", os.Getpid())
	st.scheduler.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := statusSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Status server shutdown", "error", err)
	}

	// The queue is closed by the deferred st.Close, after every worker has returned
	workers.Wait()

	logger.Info("✅ Shutdown complete")
	return nil
}

// startWorkers launches the interface watcher and, when configured, the event
// forwarder and the inbox. They stop when ctx ends.
func startWorkers(ctx context.Context, cfg *config.Config, st *stack, logger *slog.Logger) (*sync.WaitGroup, error) {
	var inbox *watcher.Inbox
	if cfg.InboxDir != "" {
		layout, err := ingest.LoadLayout(cfg.LayoutFile)
		if err != nil {
			logger.Error("CRITICAL: register layout invalid", "file", cfg.LayoutFile, "error", err)
			return nil, err
		}
		inbox = watcher.NewInbox(cfg.InboxDir, ingest.NewParser(layout), st.client, logger)
	}

	wg := &sync.WaitGroup{}

	ifaces := service.NewInterfaceWatcher(st.monitor, cfg.InterfaceInterval, logger)
	wg.Go(func() { ifaces.Run(ctx) })

	if cfg.RabbitMQURL != "" {
		events, cancel := st.client.Subscribe(256)

		dial := func() (broker.Publisher, error) {
			p, err := broker.NewEventPublisher(cfg.RabbitMQURL, cfg.DeviceID, logger)
			if err != nil {
				return nil, err
			}
			return p, nil
		}
		fwd := broker.NewForwarder(dial, infra.NewBackoff(1*time.Second, 60*time.Second, 2.0), logger)
		wg.Go(func() {
			defer cancel()
			fwd.Run(ctx, events)
		})
	}

	if inbox != nil {
		wg.Go(func() {
			if err := inbox.Run(ctx); err != nil {
				logger.Error("Inbox watcher stopped", "error", err)
			}
		})
	}

	return wg, nil
}

func startStatusServer(ctx context.Context, addr string, st *stack, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/events", dashboard.NewHub(st.client, logger, "localhost:*", "127.0.0.1:*"))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("AGENT ALIVE"))
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		status, err := st.client.Status(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("POST /sync", func(w http.ResponseWriter, r *http.Request) {
		// A caller hanging up must not cancel remote calls and flip reachability
		report, err := st.client.SyncNow(ctx)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, viewReport(report))
	})

	mux.HandleFunc("POST /retry-failed", func(w http.ResponseWriter, r *http.Request) {
		n, err := st.client.RetryFailed(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"requeued": n})
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("📊 Status server online", "url", "http://"+addr+"/status")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Status server failed", "error", err)
		}
	}()

	return server
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
