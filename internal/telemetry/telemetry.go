package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "broiler"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	ledgerEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "entries_total",
			Help:      "Ledger entries appended, by kind.",
		},
		[]string{"kind"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Cycle lifecycle transitions attempted, by transition and outcome.",
		},
		[]string{"transition", "outcome"},
	)

	accrualItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accrual",
			Name:      "cycles_total",
			Help:      "Cycles visited by the feed accrual trigger, by outcome.",
		},
		[]string{"outcome"},
	)

	recalculations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metrics",
			Name:      "recalculations_total",
			Help:      "Sale metrics recalculations, by outcome.",
		},
		[]string{"outcome"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dispatch_total",
			Help:      "Notification dispatches, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(ledgerEntries, transitions, accrualItems, recalculations, notifications)
}

// Handler exposes the registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func LedgerEntry(kind string) { ledgerEntries.WithLabelValues(kind).Inc() }

func Transition(name string, err error) {
	transitions.WithLabelValues(name, outcome(err)).Inc()
}

// AccrualItem records one cycle: "updated", "noop" or "error".
func AccrualItem(result string) { accrualItems.WithLabelValues(result).Inc() }

func Recalculation(err error) { recalculations.WithLabelValues(outcome(err)).Inc() }

func Notification(err error) { notifications.WithLabelValues(outcome(err)).Inc() }

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
