package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpsertDuration tracks the latency of applying one registration upsert on the server
	UpsertDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hff_server_upsert_duration_seconds",
		Help:    "Time taken to validate and persist a registration upsert",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"status"}) // status: success, rejected, error

	// ContentionRetries tracks how many times an upsert was retried due to lock contention
	ContentionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hff_server_contention_retries_total",
		Help: "Number of internal retries triggered by Postgres serialization failures or deadlocks",
	})

	// StatsCache counts analytics cache lookups by result: hit, miss, error
	StatsCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hff_server_stats_cache_total",
		Help: "Analytics cache lookups",
	}, []string{"result"})

	// RegisterRows counts register rows received through sheet uploads
	RegisterRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hff_server_register_rows_total",
		Help: "Register rows received through sheet uploads",
	}, []string{"outcome"}) // outcome: accepted, skipped
)
