// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JoinsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fillscope",
			Name:      "joins_total",
			Help:      "Snapshot joins by source and outcome status",
		},
		[]string{"source", "status"},
	)
	PartitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fillscope",
			Name:      "batch_partitions_total",
			Help:      "Batch partitions processed, by outcome",
		},
		[]string{"outcome"},
	)
	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fillscope",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of a full batch run",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
	PendingRematches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fillscope",
			Name:      "rematch_pending",
			Help:      "Streaming fills still waiting for a settled after observation",
		},
	)
	RematchTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fillscope",
			Name:      "rematch_ticks_total",
			Help:      "Delayed after lookups, by tick delay and result",
		},
		[]string{"delay", "result"},
	)
	CacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fillscope",
			Name:      "retention_cache_entries",
			Help:      "Entries currently held by the retention cache",
		},
	)
	StreamEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fillscope",
			Name:      "stream_events_total",
			Help:      "Messages received from the order stream, by type",
		},
		[]string{"type"},
	)

	WSClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fillscope",
			Name:      "ws_clients",
			Help:      "Connected websocket clients",
		},
	)
)

func init() {
	prometheus.MustRegister(
		JoinsTotal,
		PartitionsTotal,
		BatchDuration,
		PendingRematches,
		RematchTicks,
		CacheEntries,
		StreamEvents,
		WSClients,
	)
}
