// Package dashboard streams sync notifications to UI clients over WebSocket.
package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Guizzs26/hff-sync/internal/models"

	"github.com/coder/websocket"
)

const (
	writeTimeout     = 5 * time.Second
	subscriberBuffer = 32
)

// Source hands out notification subscriptions
type Source interface {
	Subscribe(buffer int) (<-chan models.SyncEvent, func())
}

// Hub serves one notification subscription per connected client.
// A client too slow to keep up loses events instead of stalling the sync core.
type Hub struct {
	source         Source
	logger         *slog.Logger
	originPatterns []string
	clients        atomic.Int32
}

// NewHub accepts cross-origin clients matching originPatterns (e.g. "localhost:*")
func NewHub(source Source, logger *slog.Logger, originPatterns ...string) *Hub {
	return &Hub{
		source:         source,
		logger:         logger,
		originPatterns: originPatterns,
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	return int(h.clients.Load())
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.CloseNow()

	events, cancel := h.source.Subscribe(subscriberBuffer)
	defer cancel()

	h.clients.Add(1)
	defer h.clients.Add(-1)
	h.logger.Info("Dashboard client connected", "remote", r.RemoteAddr, "clients", h.Clients())

	// Clients only listen; CloseRead handles their control frames and ends ctx on disconnect
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Dashboard client disconnected", "remote", r.RemoteAddr)
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := h.write(ctx, conn, ev); err != nil {
				h.logger.Warn("Failed to send event, dropping client", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, ev models.SyncEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
