package metrics

import coremetrics "github.com/motovia/dispatch/core/metrics"

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordAssignmentResult forwards the record to all sinks, returning the
// first error encountered.
func (m *MultiSink) RecordAssignmentResult(res coremetrics.AssignmentResult) error {
	for _, s := range m.Sinks {
		if err := s.RecordAssignmentResult(res); err != nil {
			return err
		}
	}
	return nil
}

// RecordOffer forwards offer events to sinks that support them.
func (m *MultiSink) RecordOffer(ev coremetrics.OfferEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.OfferRecorder); ok {
			if err := rec.RecordOffer(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordConnectedDrivers forwards the pool size to sinks that support it.
func (m *MultiSink) RecordConnectedDrivers(count int) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.ConnectedDriversRecorder); ok {
			if err := rec.RecordConnectedDrivers(count); err != nil {
				return err
			}
		}
	}
	return nil
}
