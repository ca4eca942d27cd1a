package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestParseMetricsLabels(t *testing.T) {
	t.Setenv("POD", "web-1")

	labels, err := ParseMetricsLabels("service=thread-service,pod=${POD}")
	require.NoError(t, err)
	require.Equal(t, prometheus.Labels{"service": "thread-service", "pod": "web-1"}, labels)
}

func TestParseMetricsLabels_Empty(t *testing.T) {
	labels, err := ParseMetricsLabels("")
	require.NoError(t, err)
	require.Nil(t, labels)
}

func TestParseMetricsLabels_Invalid(t *testing.T) {
	_, err := ParseMetricsLabels("novalue")
	require.Error(t, err)

	_, err = ParseMetricsLabels("1bad=x")
	require.Error(t, err)
}

func TestCountMaintenanceBeforeInit(t *testing.T) {
	require.NotPanics(t, func() { CountMaintenance("added", "ok") })
}
