// Package metrics registers the coordinator's Prometheus collectors: a
// package-level collector set registered in init, exposed behind a config
// flag rather than always running.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChallengesEmitted counts challenges successfully emitted and
	// verified on the client chain.
	ChallengesEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "guardnode_coordinator",
		Name:      "challenges_emitted_total",
		Help:      "Total challenges emitted and confirmed on the client chain.",
	})

	// ResponsesAccepted counts proofs the Listener verified and forwarded
	// to the engine; repeated proofs from one bid are each counted.
	ResponsesAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "guardnode_coordinator",
		Name:      "responses_accepted_total",
		Help:      "Total challenge-proof submissions accepted by the listener.",
	})

	// ResponsesDropped counts proofs the Listener rejected (unknown bid,
	// bad signature, stale or no open challenge).
	ResponsesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "guardnode_coordinator",
		Name:      "responses_dropped_total",
		Help:      "Total challenge-proof submissions dropped by the listener.",
	})

	// StoreErrors counts Response load/save failures in the Challenge
	// Engine's persist step.
	StoreErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "guardnode_coordinator",
		Name:      "store_errors_total",
		Help:      "Total store operation failures.",
	})

	// ActiveRequest is 1 while the orchestrator has an open request
	// in-flight, 0 otherwise.
	ActiveRequest = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "guardnode_coordinator",
		Name:      "active_request",
		Help:      "1 if a request is currently being serviced, 0 otherwise.",
	})
)

func init() {
	prometheus.MustRegister(ChallengesEmitted, ResponsesAccepted, ResponsesDropped, StoreErrors, ActiveRequest)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
