package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	require.NoError(t, metrics.Track("multipay_remittance").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, metrics.Track("multipay_remittance").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("multipay_remittance", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("multipay_remittance", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.failures.WithLabelValues("multipay_remittance")))
}

func TestCountersIgnoreEmptyBatches(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	metrics.AddRemittances(4, 0)
	metrics.AddRemittances(4, 2)
	metrics.AddCleanedKeys(0)
	metrics.AddCleanedKeys(5)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.remittances.WithLabelValues("4")))
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.cleaned))

	var nilMetrics *Metrics
	nilMetrics.AddRemittances(1, 1)
	assert.NoError(t, nilMetrics.Track("x").End(nil))
}
