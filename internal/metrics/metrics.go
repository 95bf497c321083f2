// Package metrics exposes sync activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the story lists report to.
type Recorder interface {
	RecordFetch(list string, ok bool, latency time.Duration)
	RecordUpdatesApplied(list string, count int)
	RecordItemsStored(count int)
}

// Collector records into Prometheus metrics.
type Collector struct {
	fetches        *prometheus.CounterVec
	fetchLatency   *prometheus.HistogramVec
	updatesApplied *prometheus.CounterVec
	itemsStored    prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storyfeed_fetch_total",
			Help: "Remote fetches by list and result",
		}, []string{"list", "result"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storyfeed_fetch_latency_seconds",
			Help:    "Remote fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"list"}),
		updatesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storyfeed_updates_applied_total",
			Help: "Push updates applied to in-memory lists",
		}, []string{"list"}),
		itemsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storyfeed_items_stored_total",
			Help: "Story rows written to the local store",
		}),
	}

	reg.MustRegister(c.fetches, c.fetchLatency, c.updatesApplied, c.itemsStored)
	return c
}

func (c *Collector) RecordFetch(list string, ok bool, latency time.Duration) {
	result := "success"
	if !ok {
		result = "failure"
	}
	c.fetches.WithLabelValues(list, result).Inc()
	c.fetchLatency.WithLabelValues(list).Observe(latency.Seconds())
}

func (c *Collector) RecordUpdatesApplied(list string, count int) {
	c.updatesApplied.WithLabelValues(list).Add(float64(count))
}

func (c *Collector) RecordItemsStored(count int) {
	c.itemsStored.Add(float64(count))
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordFetch(string, bool, time.Duration) {}
func (Nop) RecordUpdatesApplied(string, int)        {}
func (Nop) RecordItemsStored(int)                   {}

// Handler returns an http.Handler serving /metrics from gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}
