package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(webhookDeliveries)
}

var (
	// result: applied|duplicate|rejected|bad_request
	// rejected covers signature mismatches, which are security-relevant.
	webhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Inbound webhook deliveries by result.",
		},
		[]string{"result"},
	)
)

func IncWebhook(result string) { webhookDeliveries.WithLabelValues(norm(result)).Inc() }
