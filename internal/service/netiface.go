package service

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// LinkSink receives raw interface edges
type LinkSink interface {
	InterfaceOnline(ctx context.Context) bool
	InterfaceOffline()
}

// InterfaceWatcher polls the host's network interfaces and reports online/offline edges.
// A host is considered online when at least one non-loopback interface is up and has an address.
type InterfaceWatcher struct {
	sink     LinkSink
	interval time.Duration
	logger   *slog.Logger

	// overridable in tests
	linkUp func() bool
}

func NewInterfaceWatcher(sink LinkSink, interval time.Duration, l *slog.Logger) *InterfaceWatcher {
	return &InterfaceWatcher{
		sink:     sink,
		interval: interval,
		logger:   l,
		linkUp:   hostLinkUp,
	}
}

// Run blocks until ctx ends. The first observation is always reported
func (w *InterfaceWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	first := true
	var last bool

	for {
		up := w.linkUp()
		if first || up != last {
			first = false
			last = up
			if up {
				w.logger.Debug("Network interface up, probing remote")
				w.sink.InterfaceOnline(ctx)
			} else {
				w.logger.Warn("No usable network interface")
				w.sink.InterfaceOffline()
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func hostLinkUp() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}
