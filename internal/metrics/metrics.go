// Package metrics defines the Prometheus collectors exposed for pool
// occupancy, acquire latency, and request throughput. The original
// server had no equivalent (grpc reflection/health only); this follows
// the pack's own convention of a package-level registry plus a
// dedicated /metrics handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups every metric this module exports, registered once
// at startup against a caller-supplied registry (production code uses
// prometheus.DefaultRegisterer; tests read the collectors unregistered).
type Collectors struct {
	PoolOccupancy   *prometheus.GaugeVec
	PoolCapacity    *prometheus.GaugeVec
	AcquireWaitSecs *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	RequestErrors   *prometheus.CounterVec
	DecodeDurationS *prometheus.HistogramVec
}

// New builds the collector set, unregistered.
func New() *Collectors {
	return &Collectors{
		PoolOccupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kaldi_serve",
			Name:      "pool_occupancy",
			Help:      "Number of decoder workers currently checked out, per model.",
		}, []string{"model", "language"}),
		PoolCapacity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kaldi_serve",
			Name:      "pool_capacity",
			Help:      "Total decoder workers configured, per model.",
		}, []string{"model", "language"}),
		AcquireWaitSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kaldi_serve",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting to acquire a decoder worker.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"model", "language"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kaldi_serve",
			Name:      "requests_total",
			Help:      "Recognition requests handled, per model and RPC shape.",
		}, []string{"model", "language", "shape"}),
		RequestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kaldi_serve",
			Name:      "request_errors_total",
			Help:      "Recognition requests that ended in an error, per error kind.",
		}, []string{"model", "language", "kind"}),
		DecodeDurationS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kaldi_serve",
			Name:      "decode_duration_seconds",
			Help:      "Wall-clock time spent decoding one request end to end.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"model", "language", "shape"}),
	}
}

// MustRegister registers every collector against reg, panicking on a
// duplicate-registration error the way cmd/root.go's one-time startup
// wiring is expected to.
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		c.PoolOccupancy,
		c.PoolCapacity,
		c.AcquireWaitSecs,
		c.RequestsTotal,
		c.RequestErrors,
		c.DecodeDurationS,
	)
}
