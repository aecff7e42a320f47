package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Guizzs26/hff-sync/internal/models"
	"github.com/Guizzs26/hff-sync/pkg/metrics"
)

const DefaultProbeTimeout = 5 * time.Second

// Prober is the liveness check of the remote boundary
type Prober interface {
	HealthCheck(ctx context.Context) error
}

// Monitor tracks whether the remote store is reachable.
// Notifications are edge-triggered: only a flip of the state publishes an event.
type Monitor struct {
	prober   Prober
	notifier *Notifier
	logger   *slog.Logger
	timeout  time.Duration

	mu          sync.Mutex
	reachable   bool
	onReachable func()
}

func NewMonitor(p Prober, n *Notifier, timeout time.Duration, l *slog.Logger) *Monitor {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	metrics.Reachable.Set(0)
	return &Monitor{
		prober:   p,
		notifier: n,
		logger:   l,
		timeout:  timeout,
	}
}

// OnReachable registers fn to run on every unreachable to reachable transition
// fn is called in its own goroutine
func (m *Monitor) OnReachable(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReachable = fn
}

// Reachable returns the last known state without probing
func (m *Monitor) Reachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// Check probes the remote within the bounded timeout and records the result
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.prober.HealthCheck(probeCtx)
	if err != nil {
		m.logger.Debug("Health probe failed", "error", err)
		m.set(false, "probe_failed")
		return false
	}

	m.set(true, "probe_ok")
	return true
}

// InterfaceOffline is authoritative: no probe is needed to declare the remote unreachable
func (m *Monitor) InterfaceOffline() {
	m.set(false, "interface_offline")
}

// InterfaceOnline only schedules a probe; link up does not imply the remote is reachable
func (m *Monitor) InterfaceOnline(ctx context.Context) bool {
	return m.Check(ctx)
}

// MarkUnreachable is used by sync cycles when a remote call fails at the transport level
func (m *Monitor) MarkUnreachable(reason string) {
	m.set(false, reason)
}

func (m *Monitor) set(reachable bool, reason string) {
	// Held through publish so that notifications keep the order of the flips
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reachable == reachable {
		return
	}
	m.reachable = reachable
	hook := m.onReachable

	state := "unreachable"
	if reachable {
		state = "reachable"
		metrics.Reachable.Set(1)
	} else {
		metrics.Reachable.Set(0)
	}
	metrics.ConnectivityTransitions.WithLabelValues(state).Inc()

	m.logger.Info("Connectivity changed", "state", state, "reason", reason)

	m.notifier.Publish(models.SyncEvent{
		Kind:   models.EventConnectivityChanged,
		Online: reachable,
		Reason: reason,
	})

	if reachable && hook != nil {
		go hook()
	}
}
