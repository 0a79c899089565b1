package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	coremetrics "github.com/motovia/dispatch/core/metrics"
)

// PromSink records assignment outcomes in Prometheus metrics.
type PromSink struct {
	assignments *prometheus.CounterVec
	attempts    *prometheus.HistogramVec
	connected   prometheus.Gauge
}

// NewPromSink registers on the default Prometheus registerer.
func NewPromSink() (coremetrics.MetricsSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (coremetrics.MetricsSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	assignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assignment_results_total",
		Help: "Terminal assignment outcomes",
	}, []string{"assigned", "reason"})
	attempts := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assignment_attempts",
		Help:    "Offer attempts per terminal assignment",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 12},
	}, []string{"assigned"})
	connected := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "connected_drivers",
		Help: "Drivers with a live connection",
	})

	if err := reg.Register(assignments); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			assignments = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(attempts); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			attempts = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(connected); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			connected = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}

	return &PromSink{assignments: assignments, attempts: attempts, connected: connected}, nil
}

// RecordAssignmentResult increments the outcome counter.
func (s *PromSink) RecordAssignmentResult(res coremetrics.AssignmentResult) error {
	assigned := strconv.FormatBool(res.Assigned)
	s.assignments.WithLabelValues(assigned, res.Reason).Inc()
	s.attempts.WithLabelValues(assigned).Observe(float64(res.Attempts))
	return nil
}

// RecordConnectedDrivers sets the connection gauge.
func (s *PromSink) RecordConnectedDrivers(count int) error {
	s.connected.Set(float64(count))
	return nil
}

// StartPromServer starts an HTTP server exposing Prometheus metrics on the
// given address. It runs until the provided context is canceled. A dedicated
// ServeMux is used to avoid interfering with other handlers.
func StartPromServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
