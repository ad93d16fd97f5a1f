package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistered(t *testing.T) {
	TicksTotal.WithLabelValues("MINUTE_1").Inc()
	DecisionsTotal.WithLabelValues("AI", "rejected").Inc()

	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(mfs))
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["weexagent_ticks_total"])
	assert.True(t, names["weexagent_decisions_total"])
}

func TestHandlerServesText(t *testing.T) {
	StreamReconnects.Inc()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "weexagent_stream_reconnects_total")
}
