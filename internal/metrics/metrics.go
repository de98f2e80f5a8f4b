package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters for one run of the tool.
type Metrics struct {
	registry *prometheus.Registry

	entriesTotal    *prometheus.CounterVec
	processedBytes  prometheus.Counter
	contentBytes    prometheus.Counter
	decryptDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
}

// New creates a metrics set on its own registry.
func New() *Metrics {
	return newWithRegistry(prometheus.NewRegistry())
}

func newWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		entriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zipaes_entries_total",
				Help: "Entries processed, by outcome",
			},
			[]string{"outcome", "backend"},
		),
		processedBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "zipaes_stored_bytes_total",
				Help: "Stored entry bytes consumed (salt, verifier, ciphertext and MAC)",
			},
		),
		contentBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "zipaes_content_bytes_total",
				Help: "Authenticated content bytes produced",
			},
		),
		decryptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zipaes_decrypt_duration_seconds",
				Help:    "Per-entry decryption duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"backend"},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "zipaes_entries_in_flight",
				Help: "Entries currently being decrypted",
			},
		),
	}
}

// Begin marks an entry as in flight. Call the returned func when it is done.
func (m *Metrics) Begin() func() {
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// ObserveEntry records the outcome of one entry.
func (m *Metrics) ObserveEntry(backend, outcome string, processed, content int64, d time.Duration) {
	m.entriesTotal.WithLabelValues(outcome, backend).Inc()
	m.processedBytes.Add(float64(processed))
	m.contentBytes.Add(float64(content))
	m.decryptDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// Gatherer exposes the registry.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

// WriteTextfile writes all metrics in the text exposition format, suitable for
// the node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
