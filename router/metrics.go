package router

import "github.com/prometheus/client_golang/prometheus"

// Metrics are registered once at package init and shared across every
// broker/dealer instance in the process (a process may run many realms,
// each with its own broker and dealer), mirroring how transport's byte
// counters are shared across peer instances.
var (
	dealerCallsTotal        = newCounter("wampd_dealer_calls_total", "Total CALL messages routed by the dealer.")
	dealerInvocationsTotal  = newCounter("wampd_dealer_invocations_total", "Total INVOCATION messages sent to callees.")
	dealerCallTimeoutsTotal = newCounter("wampd_dealer_call_timeouts_total", "Total CALL.Options.timeout timers that fired.")
	dealerCancelsTotal      = newCounterVec("wampd_dealer_cancels_total", "Total CANCEL requests processed, by mode.", "mode")
	dealerRegistrations     = newGauge("wampd_dealer_registrations", "Current number of distinct procedure registrations.")

	brokerPublicationsTotal = newCounter("wampd_broker_publications_total", "Total PUBLISH messages routed by the broker.")
	brokerEventsTotal       = newCounter("wampd_broker_events_total", "Total EVENT messages delivered to subscribers.")
	brokerSubscriptions     = newGauge("wampd_broker_subscriptions", "Current number of distinct topic subscriptions.")
)

func newCounter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	prometheus.MustRegister(c)
	return c
}

func newCounterVec(name, help, label string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{label})
	prometheus.MustRegister(c)
	return c
}

func newGauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	prometheus.MustRegister(g)
	return g
}
