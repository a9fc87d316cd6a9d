package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SampleEmitted()
		m.SampleFolded(3, time.Millisecond)
		m.FoldRejected()
		m.AcquisitionRetried()
		m.AcquisitionFailed()
		m.SetPlotting(true)
		m.SeriesCleared()
	})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.SampleEmitted()
	m.SampleEmitted()
	m.SampleFolded(7, time.Millisecond)
	m.SetPlotting(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SamplesEmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SamplesFolded))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.SeriesLength))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Plotting))

	m.SeriesCleared()
	m.SetPlotting(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SeriesLength))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Plotting))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.AcquisitionFailed()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "rp_plot_acquisition_failures_total 1"))
}
