package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	offersSent        prometheus.Counter
	offerOutcomes     *prometheus.CounterVec
	offerLatency      *prometheus.HistogramVec
	assignmentsTotal  *prometheus.CounterVec
	duplicateOrders   prometheus.Counter
	activeAssignments prometheus.Gauge
)

// newCollectors creates new metric collectors.
func newCollectors() (prometheus.Counter, *prometheus.CounterVec, *prometheus.HistogramVec, *prometheus.CounterVec, prometheus.Counter, prometheus.Gauge) {
	sent := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_offers_sent_total",
			Help: "Number of offers pushed to drivers",
		},
	)
	outcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_offer_outcomes_total",
			Help: "Offer outcomes by kind",
		},
		[]string{"outcome"},
	)
	latency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_offer_latency_seconds",
			Help:    "Time between offer send and resolution",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	assignments := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_assignments_total",
			Help: "Terminal assignment results",
		},
		[]string{"result"},
	)
	dup := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_duplicate_orders_total",
			Help: "Duplicate OrderCreated events ignored",
		},
	)
	active := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_active_assignments",
			Help: "Assignments currently in flight",
		},
	)
	return sent, outcomes, latency, assignments, dup, active
}

func init() {
	offersSent, offerOutcomes, offerLatency, assignmentsTotal, duplicateOrders, activeAssignments = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(offersSent, offerOutcomes, offerLatency, assignmentsTotal, duplicateOrders, activeAssignments)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	offersSent, offerOutcomes, offerLatency, assignmentsTotal, duplicateOrders, activeAssignments = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
