package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type SchedulerConfig struct {
	PushInterval      time.Duration
	PullInterval      time.Duration
	HeartbeatInterval time.Duration
}

// SyncReport is the outcome of an explicit sync request
type SyncReport struct {
	Reachable bool
	Push      PushResult
	Pull      PullResult
}

// Scheduler drives the engine: periodic push, pull and heartbeat probes,
// plus an immediate push whenever the remote becomes reachable.
// Cycles are started in their own goroutine so that a tick arriving while
// a cycle is running is dropped by the engine's guard instead of queued.
type Scheduler struct {
	engine  *Engine
	monitor *Monitor
	cfg     SchedulerConfig
	logger  *slog.Logger

	trigger chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(e *Engine, m *Monitor, cfg SchedulerConfig, l *slog.Logger) *Scheduler {
	s := &Scheduler{
		engine:  e,
		monitor: m,
		cfg:     cfg,
		logger:  l,
		trigger: make(chan struct{}, 1),
	}
	m.OnReachable(s.TriggerPush)
	return s
}

// TriggerPush requests an immediate push without blocking the caller
func (s *Scheduler) TriggerPush() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled, then waits for started cycles to return
func (s *Scheduler) Run(ctx context.Context) {
	pushTicker := time.NewTicker(s.cfg.PushInterval)
	pullTicker := time.NewTicker(s.cfg.PullInterval)
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer func() {
		pushTicker.Stop()
		pullTicker.Stop()
		heartbeat.Stop()
		s.wg.Wait()
	}()

	s.logger.Info("Scheduler started",
		"push_interval", s.cfg.PushInterval,
		"pull_interval", s.cfg.PullInterval,
		"heartbeat_interval", s.cfg.HeartbeatInterval,
	)

	// First probe right away so a device that boots online syncs without waiting a heartbeat
	s.spawn(func() { s.monitor.Check(ctx) })

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping")
			return
		case <-s.trigger:
			s.spawn(func() { s.runPush(ctx, "trigger") })
		case <-pushTicker.C:
			s.spawn(func() { s.runPush(ctx, "tick") })
		case <-pullTicker.C:
			s.spawn(func() { s.runPull(ctx, "tick") })
		case <-heartbeat.C:
			s.spawn(func() { s.monitor.Check(ctx) })
		}
	}
}

// ForceSyncNow probes the remote, then runs push and pull concurrently and waits for both
func (s *Scheduler) ForceSyncNow(ctx context.Context) (SyncReport, error) {
	var report SyncReport

	report.Reachable = s.monitor.Check(ctx)
	if !report.Reachable {
		report.Push.Skipped = ErrUnreachable
		report.Pull.Skipped = ErrUnreachable
		return report, nil
	}

	// A local error in one operation must not cancel the other's remote call
	var g errgroup.Group
	g.Go(func() error {
		res, err := s.engine.Push(ctx)
		report.Push = res
		return err
	})
	g.Go(func() error {
		res, err := s.engine.Pull(ctx)
		report.Pull = res
		return err
	})

	err := g.Wait()
	return report, err
}

func (s *Scheduler) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Scheduler) runPush(ctx context.Context, cause string) {
	res, err := s.engine.Push(ctx)
	if err != nil {
		s.logger.Error("Push cycle failed", "cause", cause, "error", err)
		return
	}
	if res.Skipped != nil {
		s.logger.Debug("Push skipped", "cause", cause, "reason", res.Skipped)
	}
}

func (s *Scheduler) runPull(ctx context.Context, cause string) {
	res, err := s.engine.Pull(ctx)
	if err != nil {
		s.logger.Error("Pull cycle failed", "cause", cause, "error", err)
		return
	}
	if res.Skipped != nil {
		s.logger.Debug("Pull skipped", "cause", cause, "reason", res.Skipped)
	}
}
