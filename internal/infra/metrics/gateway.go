package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		gatewayCallsTotal,
		gatewayCallDuration,
	)
}

var (
	gatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_calls_total",
			Help: "Gateway API calls by operation and result (ok/error).",
		},
		[]string{"operation", "result"},
	)

	gatewayCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_call_duration_seconds",
			Help:    "Gateway API call duration by operation.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)
)

func IncGatewayCall(operation, result string) {
	gatewayCallsTotal.WithLabelValues(norm(operation), norm(result)).Inc()
}

func ObserveGatewayCall(operation string, seconds float64) {
	gatewayCallDuration.WithLabelValues(norm(operation)).Observe(seconds)
}
