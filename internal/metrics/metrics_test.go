package metrics_test

import (
	"errors"
	"testing"

	"github.com/jrsteele09/billing-console/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveLogin(nil)
	m.ObserveLogin(errors.New("boom"))
	m.ObserveLogin(nil)
	m.ObserveLogout("single", errors.New("offline"))
	m.ObserveBroadcast("LOGIN", "channel")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Logins.WithLabelValues(metrics.ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Logins.WithLabelValues(metrics.ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Logouts.WithLabelValues("single", metrics.ResultFailure)))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.ObserveRefresh(nil)
		m.ObserveSyncReceived("LOGOUT")
	})
}
