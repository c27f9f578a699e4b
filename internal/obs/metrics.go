// Copyright 2025 James Ross
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ItemsIncoming = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "multiplexer_items_incoming_total",
		Help: "Total number of items popped from the source",
	})
	ItemsOutgoing = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "multiplexer_items_outgoing_total",
		Help: "Total number of items pushed to at least one destination",
	})
	ItemsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "multiplexer_items_dropped_total",
		Help: "Total number of items no destination accepted",
	})
	ItemsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "multiplexer_items_deleted_total",
		Help: "Total number of items removed by destination head-trim",
	})
	ArbiterBufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "multiplexer_arbiter_buffer_size",
		Help: "Current number of items held in the ordering arbiter's buffer",
	})
	DestinationStuck = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "multiplexer_destination_stuck",
		Help: "1 when a destination is in the stuck admission state, 0 when healthy",
	}, []string{"destination"})
	PushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "multiplexer_push_duration_seconds",
		Help:    "Histogram of per-item destination push durations",
		Buckets: prometheus.DefBuckets,
	})
	WorkersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "multiplexer_workers_active",
		Help: "Number of active worker pipeline goroutines",
	})
)

func init() {
	prometheus.MustRegister(ItemsIncoming, ItemsOutgoing, ItemsDropped, ItemsDeleted, ArbiterBufferSize, DestinationStuck, PushDuration, WorkersActive)
}
