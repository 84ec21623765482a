package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecomputeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshot_recompute_total",
		Help: "Total number of snapshot recomputations by outcome",
	}, []string{"outcome"})

	RecomputeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "snapshot_recompute_latency_seconds",
		Help:    "Latency of fetch-and-reconcile cycles",
		Buckets: prometheus.DefBuckets,
	})

	FeedFetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_fetch_failures_total",
		Help: "Total number of failed input feed fetches",
	}, []string{"feed"})

	SnapshotGeneration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "snapshot_generation",
		Help: "Generation of the installed snapshot",
	})

	ValidAssignments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reconciled_valid_assignments",
		Help: "Number of active card-to-room assignments",
	})

	DeniedProducts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reconciled_denied_products",
		Help: "Number of products whose latest event is blocked",
	})

	DeletedCards = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reconciled_deleted_cards",
		Help: "Number of globally retired cards",
	})

	AvailableRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "available_rooms",
		Help: "Number of rooms currently assignable to guests",
	})

	PackageRowsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "card_package_rows_written_total",
		Help: "Total number of card package rows written upstream",
	})

	DataChangedEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "data_changed_events_total",
		Help: "Total number of data-changed notifications by source",
	}, []string{"source"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
