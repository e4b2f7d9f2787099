// Package metrics holds the prometheus collectors of the sync pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var SyncRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "book_search_sync",
	Subsystem: "full_sync",
	Name:      "runs_total",
}, []string{"result"})

var SyncPages = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "book_search_sync",
	Subsystem: "full_sync",
	Name:      "pages_total",
})

var SyncDocuments = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "book_search_sync",
	Subsystem: "full_sync",
	Name:      "documents_total",
}, []string{"result"})

var SyncRunning = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "book_search_sync",
	Subsystem: "full_sync",
	Name:      "running",
})

var ChangeEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "book_search_sync",
	Subsystem: "changes",
	Name:      "events_total",
}, []string{"decision"})

var DeadLettered = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "book_search_sync",
	Subsystem: "changes",
	Name:      "dead_lettered_total",
})

var IndexRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "book_search_sync",
	Subsystem: "index",
	Name:      "request_duration_seconds",
	Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
}, []string{"op", "result"})

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(SyncRuns, SyncPages, SyncDocuments, SyncRunning, ChangeEvents, DeadLettered, IndexRequestDuration)
}
