package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PushRecords counts records handled by push cycles
	// status: synced (acked), failed (rejected), aborted (transport error)
	PushRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hff_sync_push_records_total",
		Help: "Total number of records handled by push cycles",
	}, []string{"status"})

	// PullRecords counts remote records applied by pull cycles
	// outcome: inserted, updated, ignored (local copy was as new or newer)
	PullRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hff_sync_pull_records_total",
		Help: "Total number of remote records merged by pull cycles",
	}, []string{"outcome"})

	// CycleDuration measures how long a full push or pull cycle takes
	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hff_sync_cycle_duration_seconds",
		Help:    "Duration of push and pull cycles in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// CyclesSkipped counts triggers that did not start a cycle
	// reason: in_flight (single-flight guard), unreachable
	CyclesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hff_sync_cycles_skipped_total",
		Help: "Number of push/pull triggers dropped without running a cycle",
	}, []string{"operation", "reason"})

	// PendingBacklog is the number of local records waiting for a push
	// This is the primary indicator of how far behind a device is
	PendingBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hff_sync_pending_backlog",
		Help: "Current number of pending records in the local queue",
	})

	// Reachable provides a binary 0/1 signal of the probed remote reachability
	Reachable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hff_sync_remote_reachable",
		Help: "Probed reachability of the remote store (1 reachable, 0 unreachable)",
	})

	// ConnectivityTransitions counts reachability flips, by new state
	ConnectivityTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hff_sync_connectivity_transitions_total",
		Help: "Number of reachability state changes",
	}, []string{"state"})

	// EventsDropped counts notifications not delivered to a slow subscriber
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hff_sync_events_dropped_total",
		Help: "Notifications dropped because a subscriber buffer was full",
	})

	// BrokerHealthy provides a binary 0/1 signal of the event forwarding connection
	BrokerHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hff_sync_broker_healthy",
		Help: "Health of the RabbitMQ event forwarding connection (1 healthy, 0 down)",
	})

	// EventsForwarded counts notifications handed to the broker
	// outcome: published, failed, dropped (no connection)
	EventsForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hff_sync_events_forwarded_total",
		Help: "Sync notifications forwarded to the message broker",
	}, []string{"outcome"})
)
