package main

import (
	"fmt"
	"log/slog"

	"github.com/Guizzs26/hff-sync/internal/auth"
	"github.com/Guizzs26/hff-sync/internal/config"
	"github.com/Guizzs26/hff-sync/internal/db"
	"github.com/Guizzs26/hff-sync/internal/remote"
	"github.com/Guizzs26/hff-sync/internal/service"
)

// stack is the wired sync core of one device
type stack struct {
	queue     *db.LocalQueue
	notifier  *service.Notifier
	monitor   *service.Monitor
	engine    *service.Engine
	scheduler *service.Scheduler
	client    *service.Client
}

func openStack(cfg *config.Config, logger *slog.Logger) (*stack, error) {
	queue, err := db.OpenLocalQueue(cfg.LocalDBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open local queue: %w", err)
	}

	var tokens remote.TokenSource
	if cfg.SigningKey != "" {
		tokens = auth.NewTokenSource(cfg.DeviceID, cfg.JWTIssuer, cfg.SigningKey, auth.DefaultTokenTTL)
	}
	rc := remote.New(cfg.RemoteURL, tokens)

	n := service.NewNotifier()
	m := service.NewMonitor(rc, n, cfg.ProbeTimeout, logger)
	e := service.NewEngine(queue, rc, m, n, service.EngineConfig{
		RequestTimeout: cfg.RequestTimeout,
		RequeueFailed:  cfg.RequeueFailed,
	}, logger)
	s := service.NewScheduler(e, m, service.SchedulerConfig{
		PushInterval:      cfg.PushInterval,
		PullInterval:      cfg.PullInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, logger)

	return &stack{
		queue:     queue,
		notifier:  n,
		monitor:   m,
		engine:    e,
		scheduler: s,
		client:    service.NewClient(queue, s, e, m, n, logger),
	}, nil
}

func (s *stack) Close() error {
	return s.queue.Close()
}

// reportView is the printable form of a service.SyncReport
type reportView struct {
	Reachable bool   `json:"reachable"`
	Push      string `json:"push"`
	Pull      string `json:"pull"`
}

func viewReport(r service.SyncReport) reportView {
	return reportView{
		Reachable: r.Reachable,
		Push:      describePush(r.Push),
		Pull:      describePull(r.Pull),
	}
}

func describePush(p service.PushResult) string {
	if p.Skipped != nil {
		return "skipped: " + p.Skipped.Error()
	}
	s := fmt.Sprintf("%d attempted, %d synced, %d failed", p.Attempted, p.Synced, p.Failed)
	if p.Requeued > 0 {
		s += fmt.Sprintf(", %d requeued", p.Requeued)
	}
	if p.Aborted {
		s += " (aborted: remote unreachable)"
	}
	return s
}

func describePull(p service.PullResult) string {
	if p.Skipped != nil {
		return "skipped: " + p.Skipped.Error()
	}
	s := fmt.Sprintf("%d fetched, %d inserted, %d updated, %d ignored", p.Fetched, p.Inserted, p.Updated, p.Ignored)
	if p.Aborted {
		s += " (aborted)"
	}
	return s
}
