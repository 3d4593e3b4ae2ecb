package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bulkindex"

// IngestMetrics holds the prometheus collectors of the write path.
// A nil *IngestMetrics is valid and records nothing.
type IngestMetrics struct {
	RowsSucceeded     prometheus.Counter
	RowsFailed        prometheus.Counter
	BulkRequests      *prometheus.CounterVec
	Retries           prometheus.Counter
	PartitionsCreated prometheus.Counter
	InFlight          prometheus.Gauge
	BulkLatency       prometheus.Histogram
}

// NewIngestMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	m := &IngestMetrics{
		RowsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_succeeded_total",
			Help:      "Rows written successfully.",
		}),
		RowsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_failed_total",
			Help:      "Rows that reached a terminal failure.",
		}),
		BulkRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_requests_total",
			Help:      "Bulk requests sent, by outcome.",
		}, []string{"outcome"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Items scheduled for another attempt.",
		}),
		PartitionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partitions_created_total",
			Help:      "Partition creation requests that succeeded.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bulk_in_flight",
			Help:      "Bulk jobs holding an in-flight budget slot.",
		}),
		BulkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bulk_request_seconds",
			Help:      "Latency of bulk write requests.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.RowsSucceeded, m.RowsFailed, m.BulkRequests, m.Retries,
			m.PartitionsCreated, m.InFlight, m.BulkLatency)
	}
	return m
}

// RowsDone adds terminal row outcomes.
func (m *IngestMetrics) RowsDone(succeeded, failed int) {
	if m == nil {
		return
	}
	m.RowsSucceeded.Add(float64(succeeded))
	m.RowsFailed.Add(float64(failed))
}

// BulkRequest records one bulk request with its outcome and duration.
func (m *IngestMetrics) BulkRequest(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.BulkRequests.WithLabelValues(outcome).Inc()
	m.BulkLatency.Observe(seconds)
}

// Retry records n items scheduled for retry.
func (m *IngestMetrics) Retry(n int) {
	if m == nil {
		return
	}
	m.Retries.Add(float64(n))
}

// PartitionCreated records a successful partition creation.
func (m *IngestMetrics) PartitionCreated() {
	if m == nil {
		return
	}
	m.PartitionsCreated.Inc()
}

// SetInFlight sets the in-flight gauge.
func (m *IngestMetrics) SetInFlight(n int64) {
	if m == nil {
		return
	}
	m.InFlight.Set(float64(n))
}
