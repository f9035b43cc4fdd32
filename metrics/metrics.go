// Package metrics exposes Prometheus counters for dispatch outcomes.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	global *Metrics
	once   sync.Once
)

// Metrics holds the dispatcher's Prometheus collectors.
type Metrics struct {
	// dispatch_runs_total{outcome}: completed, halted, errored
	RunsTotal *prometheus.CounterVec

	// dispatch_gate_verdicts_total{gate,verdict}
	GateVerdictsTotal *prometheus.CounterVec

	// dispatch_deliveries_total{status}
	DeliveriesTotal *prometheus.CounterVec

	// dispatch_orbt_strikes_total{strike}
	StrikesTotal *prometheus.CounterVec
}

// New registers the dispatch metrics once per process; repeat calls return
// the same set so wiring code never trips duplicate-registration panics.
func New() *Metrics {
	once.Do(func() {
		global = &Metrics{
			RunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dispatch_runs_total",
					Help: "Total pipeline runs by terminal outcome",
				},
				[]string{"outcome"},
			),
			GateVerdictsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dispatch_gate_verdicts_total",
					Help: "Gate evaluations by gate and verdict",
				},
				[]string{"gate", "verdict"},
			),
			DeliveriesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dispatch_deliveries_total",
					Help: "Delivery attempts by normalized status",
				},
				[]string{"status"},
			),
			StrikesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dispatch_orbt_strikes_total",
					Help: "ORBT escalations by strike number",
				},
				[]string{"strike"},
			),
		}
	})
	return global
}
