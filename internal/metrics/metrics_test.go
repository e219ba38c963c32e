package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestObserveHelpers(t *testing.T) {
	before := testutil.ToFloat64(incidentsTotal.WithLabelValues("dedup", ActionCreated))
	ObserveIncident("dedup", ActionCreated)
	assert.Equal(t, before+1, testutil.ToFloat64(incidentsTotal.WithLabelValues("dedup", ActionCreated)))

	hits := testutil.ToFloat64(forecastCacheTotal.WithLabelValues("hit"))
	ObserveForecastCache(true)
	assert.Equal(t, hits+1, testutil.ToFloat64(forecastCacheTotal.WithLabelValues("hit")))

	failures := testutil.ToFloat64(cyclesTotal.WithLabelValues(OutcomeError))
	ObserveCycle(-time.Second, OutcomeError)
	assert.Equal(t, failures+1, testutil.ToFloat64(cyclesTotal.WithLabelValues(OutcomeError)))
}
