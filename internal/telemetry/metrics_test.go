package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_AllRegistered(t *testing.T) {
	cases := map[string]prometheus.Collector{
		"http_requests_total":           HTTPRequestsTotal,
		"http_request_duration_seconds": HTTPRequestDuration,
		"beacon_scans_total":            ScansTotal,
		"beacon_scan_failures_total":    ScanFailuresTotal,
		"signals_created_total":         SignalsCreatedTotal,
		"rate_limit_denials_total":      RateLimitDenialsTotal,
		"xp_awarded_total":              XPAwardedTotal,
		"xp_capped_total":               XPCappedTotal,
		"side_effect_failures_total":    SideEffectFailuresTotal,
		"fanout_published_total":        FanoutPublishedTotal,
		"fanout_dropped_total":          FanoutDroppedTotal,
		"signal_stream_subscribers":     StreamSubscribers,
		"db_open_connections":           DBOpenConnections,
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			err := prometheus.Register(c)
			var are prometheus.AlreadyRegisteredError
			assert.ErrorAs(t, err, &are, "%s should already be registered by promauto", name)
		})
	}
}

func TestScansTotal_counts(t *testing.T) {
	before := testutil.ToFloat64(ScansTotal.WithLabelValues("checkin", "organic"))
	ScansTotal.WithLabelValues("checkin", "organic").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ScansTotal.WithLabelValues("checkin", "organic")))
}

func TestNoopTracer_startsSpans(t *testing.T) {
	_, span := NoopTracer().Start(t.Context(), "x")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid())
}
