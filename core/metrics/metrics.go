// Package metrics defines the sink interfaces used to record dispatch
// activity for observability. Sinks may additionally implement the optional
// capability interfaces; callers probe them with type assertions.
package metrics

import "time"

// AssignmentResult is a terminal assignment record.
type AssignmentResult struct {
	OrderID    string
	DriverID   string
	Assigned   bool
	Attempts   int
	Reason     string
	DecidedAt  time.Time
	TotalDelay time.Duration
}

// MetricsSink records assignment outcomes for observability purposes.
type MetricsSink interface {
	RecordAssignmentResult(res AssignmentResult) error
}

// OfferEvent captures one offer sent to a driver and its resolution.
type OfferEvent struct {
	OrderID  string
	DriverID string
	OfferID  string
	Attempt  int
	Outcome  string
	Latency  time.Duration
	Error    string
	Time     time.Time
}

// OfferRecorder records per-offer events.
type OfferRecorder interface {
	RecordOffer(ev OfferEvent) error
}

// ConnectedDriversRecorder records the size of the connected driver pool.
type ConnectedDriversRecorder interface {
	RecordConnectedDrivers(count int) error
}

// NopSink implements MetricsSink with no-op methods.
type NopSink struct{}

func (NopSink) RecordAssignmentResult(AssignmentResult) error { return nil }
func (NopSink) RecordOffer(OfferEvent) error                  { return nil }
func (NopSink) RecordConnectedDrivers(int) error              { return nil }
