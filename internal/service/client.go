package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/hff-sync/internal/models"
	"github.com/google/uuid"
)

// Queue is what the capture surface needs from the local store
type Queue interface {
	Append(ctx context.Context, rec models.Record) (int64, error)
	PendingCount(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context) (map[models.SyncStatus]int, error)
	RequeueFailed(ctx context.Context) (int64, error)
}

// Status is a snapshot of the local sync state
type Status struct {
	Reachable bool   `json:"reachable"`
	Pending   int    `json:"pending"`
	Synced    int    `json:"synced"`
	Failed    int    `json:"failed"`
	Push      string `json:"push"`
	Pull      string `json:"pull"`
}

// Client is the surface exposed to UI layers and the CLI.
// Record creation is always local; the network is never on the capture path.
type Client struct {
	queue     Queue
	scheduler *Scheduler
	engine    *Engine
	monitor   *Monitor
	notifier  *Notifier
	logger    *slog.Logger
}

func NewClient(q Queue, s *Scheduler, e *Engine, m *Monitor, n *Notifier, l *slog.Logger) *Client {
	return &Client{
		queue:     q,
		scheduler: s,
		engine:    e,
		monitor:   m,
		notifier:  n,
		logger:    l,
	}
}

// SubmitRecord assigns a fresh uuid and write timestamp and appends the record as pending
func (c *Client) SubmitRecord(ctx context.Context, payload json.RawMessage) (string, error) {
	id := uuid.NewString()
	return id, c.SubmitWithID(ctx, id, payload)
}

// SubmitWithID appends a record under a caller-chosen uuid, e.g. one derived from a register row
func (c *Client) SubmitWithID(ctx context.Context, id string, payload json.RawMessage) error {
	if !json.Valid(payload) {
		return fmt.Errorf("submit %s: payload is not valid JSON", id)
	}

	rec := models.Record{
		UUID:      id,
		UpdatedAt: models.Now(),
		Payload:   payload,
	}
	if _, err := c.queue.Append(ctx, rec); err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	c.logger.Debug("Record queued", "uuid", id)
	c.scheduler.TriggerPush()
	return nil
}

func (c *Client) GetPendingCount(ctx context.Context) (int, error) {
	return c.queue.PendingCount(ctx)
}

// ForceSyncNow probes the remote and runs a push and a pull, waiting for both
func (c *Client) ForceSyncNow(ctx context.Context) error {
	_, err := c.SyncNow(ctx)
	return err
}

// SyncNow is ForceSyncNow with the per-cycle results
func (c *Client) SyncNow(ctx context.Context) (SyncReport, error) {
	return c.scheduler.ForceSyncNow(ctx)
}

// RetryFailed moves failed records back to pending and triggers a push
func (c *Client) RetryFailed(ctx context.Context) (int64, error) {
	n, err := c.queue.RequeueFailed(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.scheduler.TriggerPush()
	}
	return n, nil
}

// Subscribe registers a listener for sync notifications
func (c *Client) Subscribe(buffer int) (<-chan models.SyncEvent, func()) {
	return c.notifier.Subscribe(buffer)
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	counts, err := c.queue.CountByStatus(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Reachable: c.monitor.Reachable(),
		Pending:   counts[models.StatusPending],
		Synced:    counts[models.StatusSynced],
		Failed:    counts[models.StatusFailed],
		Push:      c.engine.PushState().String(),
		Pull:      c.engine.PullState().String(),
	}, nil
}
