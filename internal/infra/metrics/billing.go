package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		chargesTotal,
		mandatesTotal,
		revenuePaiseTotal,
	)
}

var (
	chargesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_charges_total",
			Help: "Recurring charge attempts by outcome (success/failed/conflict).",
		},
		[]string{"outcome"},
	)

	mandatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_mandates_total",
			Help: "Mandate lifecycle events (requested/approved/rejected/cancelled).",
		},
		[]string{"event"},
	)

	revenuePaiseTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_revenue_paise_total",
			Help: "Total settled recurring revenue in paise.",
		},
	)
)

func IncCharge(outcome string) { chargesTotal.WithLabelValues(norm(outcome)).Inc() }

func IncMandate(event string) { mandatesTotal.WithLabelValues(norm(event)).Inc() }

func AddRevenue(paise int64) { revenuePaiseTotal.Add(float64(paise)) }
