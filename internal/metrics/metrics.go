// Package metrics exposes acquisition and session counters to Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rp_plot"

type Metrics struct {
	SamplesEmitted      prometheus.Counter
	SamplesFolded       prometheus.Counter
	FoldErrors          prometheus.Counter
	AcquisitionRetries  prometheus.Counter
	AcquisitionFailures prometheus.Counter
	Plotting            prometheus.Gauge
	SeriesLength        prometheus.Gauge
	FoldDuration        prometheus.Histogram

	registry *prometheus.Registry
}

// New builds the metric set on a private registry.
func New() *Metrics {
	m := &Metrics{
		SamplesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_emitted_total",
			Help:      "Samples published on the stream bridge.",
		}),
		SamplesFolded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_folded_total",
			Help:      "Samples merged into the session series.",
		}),
		FoldErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fold_errors_total",
			Help:      "Samples rejected by the accumulation buffer.",
		}),
		AcquisitionRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisition_retries_total",
			Help:      "Source reads retried after reconfiguration.",
		}),
		AcquisitionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisition_failures_total",
			Help:      "Source reads that failed after the retry.",
		}),
		Plotting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_plotting",
			Help:      "1 while a session is plotting.",
		}),
		SeriesLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "series_length",
			Help:      "Samples held by the current session.",
		}),
		FoldDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fold_duration_seconds",
			Help:      "Time spent folding and rendering one sample.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.SamplesEmitted,
		m.SamplesFolded,
		m.FoldErrors,
		m.AcquisitionRetries,
		m.AcquisitionFailures,
		m.Plotting,
		m.SeriesLength,
		m.FoldDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SampleEmitted() {
	if m == nil {
		return
	}
	m.SamplesEmitted.Inc()
}

func (m *Metrics) SampleFolded(seriesLen int, took time.Duration) {
	if m == nil {
		return
	}
	m.SamplesFolded.Inc()
	m.SeriesLength.Set(float64(seriesLen))
	m.FoldDuration.Observe(took.Seconds())
}

func (m *Metrics) FoldRejected() {
	if m == nil {
		return
	}
	m.FoldErrors.Inc()
}

func (m *Metrics) AcquisitionRetried() {
	if m == nil {
		return
	}
	m.AcquisitionRetries.Inc()
}

func (m *Metrics) AcquisitionFailed() {
	if m == nil {
		return
	}
	m.AcquisitionFailures.Inc()
}

func (m *Metrics) SetPlotting(on bool) {
	if m == nil {
		return
	}
	if on {
		m.Plotting.Set(1)
	} else {
		m.Plotting.Set(0)
	}
}

func (m *Metrics) SeriesCleared() {
	if m == nil {
		return
	}
	m.SeriesLength.Set(0)
}
