package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Guizzs26/hff-sync/internal/models"
	"github.com/Guizzs26/hff-sync/pkg/infra"
	"github.com/Guizzs26/hff-sync/pkg/metrics"
)

// Publisher is the part of EventPublisher the forwarder depends on
type Publisher interface {
	Publish(ctx context.Context, ev models.SyncEvent) error
	IsHealthy() bool
	Close() error
}

// DialFunc opens a new publisher connection
type DialFunc func() (Publisher, error)

// Forwarder relays notifications to the broker. Notifications are
// fire-and-forget: while the broker is down events are dropped, and the
// connection is retried with backoff without ever blocking the stream.
type Forwarder struct {
	dial    DialFunc
	backoff *infra.Backoff
	logger  *slog.Logger

	pub      Publisher
	nextDial time.Time
	now      func() time.Time
}

func NewForwarder(dial DialFunc, backoff *infra.Backoff, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		dial:    dial,
		backoff: backoff,
		logger:  logger,
		now:     time.Now,
	}
}

// Run forwards events until ctx ends or events is closed
func (f *Forwarder) Run(ctx context.Context, events <-chan models.SyncEvent) {
	defer f.closePublisher()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			f.forward(ctx, ev)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, ev models.SyncEvent) {
	l := f.logger.With("kind", ev.Kind, "routing_key", ev.RoutingKey())

	if f.pub != nil && !f.pub.IsHealthy() {
		f.closePublisher()
	}
	if f.pub == nil && !f.connect() {
		metrics.EventsForwarded.WithLabelValues("dropped").Inc()
		l.Debug("Broker unavailable, event dropped")
		return
	}

	pctx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	if err := f.pub.Publish(pctx, ev); err != nil {
		metrics.EventsForwarded.WithLabelValues("failed").Inc()
		l.Warn("Failed to forward event", "error", err)
		f.closePublisher()
		return
	}

	metrics.EventsForwarded.WithLabelValues("published").Inc()
}

// connect dials unless the backoff window is still open
func (f *Forwarder) connect() bool {
	if f.now().Before(f.nextDial) {
		return false
	}

	pub, err := f.dial()
	if err != nil {
		wait := f.backoff.Next()
		f.nextDial = f.now().Add(wait)
		f.logger.Warn("Broker connection failed, backing off",
			"error", err,
			"attempt", f.backoff.Attempts(),
			"retry_in", wait,
		)
		return false
	}

	if f.backoff.Attempts() > 0 {
		f.logger.Info("Broker connection restored", "attempts", f.backoff.Attempts())
	}
	f.backoff.Reset()
	f.pub = pub
	return true
}

func (f *Forwarder) closePublisher() {
	if f.pub == nil {
		return
	}
	f.pub.Close()
	f.pub = nil
}
