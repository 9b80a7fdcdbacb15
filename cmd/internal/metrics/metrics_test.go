package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.Published()
		m.Trimmed(3)
		m.Delivered(TransportStream, "published", true)
		m.WaiterAdded(1)
		m.SubscriberAdded(-1)
		m.SocketAdded(1)
		m.ChannelCreated()
	})
}

func TestMetrics_Counts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Published()
	m.Published()
	m.Trimmed(500)
	m.Delivered(TransportLongPoll, "timeout", true)
	m.Delivered(TransportStream, "published", false)
	m.WaiterAdded(1)
	m.WaiterAdded(-1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.published))
	assert.Equal(t, 500.0, testutil.ToFloat64(m.trimmed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues(TransportLongPoll, "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues(TransportStream)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.waiters))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, n)
}
