package engine

import "github.com/prometheus/client_golang/prometheus"

var operationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "delegationauth_engine_operations_total",
		Help: "Total number of Delegation Engine operations by kind and outcome",
	},
	[]string{"operation", "outcome"},
)

func init() {
	prometheus.MustRegister(operationsTotal)
}

func recordOutcome(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	operationsTotal.WithLabelValues(operation, outcome).Inc()
}
