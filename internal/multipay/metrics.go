package multipay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for batch confirmations.
type Metrics struct {
	batches  *prometheus.CounterVec
	entries  prometheus.Counter
	duration prometheus.Histogram
}

// NewMetrics registers the batch metrics against registerer, or the default
// registerer when nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	batches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_multipay_batches_total",
		Help: "Confirmed batches partitioned by outcome and the stage reached.",
	}, []string{"outcome", "stage"})
	entries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_multipay_entries_created_total",
		Help: "Payment entries created by batch confirmations.",
	})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "odyssey_multipay_confirm_duration_seconds",
		Help:    "Duration in seconds of batch confirmations.",
		Buckets: prometheus.DefBuckets,
	})
	registerer.MustRegister(batches, entries, duration)
	return &Metrics{batches: batches, entries: entries, duration: duration}
}

func (m *Metrics) observe(stage Stage, entries int, err error, start time.Time) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.batches.WithLabelValues(outcome, string(stage)).Inc()
	m.entries.Add(float64(entries))
	m.duration.Observe(time.Since(start).Seconds())
}
