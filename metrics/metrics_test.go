package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.WriteOutcomes.WithLabelValues("replace", "success").Inc()
	m.Subscribers.Set(3)
	m.EventsPublished.WithLabelValues("dataUpdated").Add(2)

	require.Equal(t, 1.0, testutil.ToFloat64(m.WriteOutcomes.WithLabelValues("replace", "success")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.Subscribers))
	require.Equal(t, 2.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("dataUpdated")))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestNewPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	require.Panics(t, func() { New(reg) })
}
