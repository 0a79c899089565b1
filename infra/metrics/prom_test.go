package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/motovia/dispatch/core/metrics"
)

func TestPromSinkRecordAssignmentResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	sinkIf, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	sink, ok := sinkIf.(*PromSink)
	if !ok {
		t.Fatalf("expected PromSink")
	}

	if err := sink.RecordAssignmentResult(coremetrics.AssignmentResult{
		OrderID:   "O1",
		DriverID:  "D1",
		Assigned:  true,
		Attempts:  2,
		DecidedAt: time.Now(),
	}); err != nil {
		t.Fatalf("record error: %v", err)
	}
	if err := sink.RecordAssignmentResult(coremetrics.AssignmentResult{
		OrderID:   "O2",
		Assigned:  false,
		Attempts:  3,
		Reason:    "exhausted",
		DecidedAt: time.Now(),
	}); err != nil {
		t.Fatalf("record error: %v", err)
	}

	expected := `
# HELP assignment_results_total Terminal assignment outcomes
# TYPE assignment_results_total counter
assignment_results_total{assigned="false",reason="exhausted"} 1
assignment_results_total{assigned="true",reason=""} 1
`
	if err := testutil.CollectAndCompare(sink.assignments, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
	if c := testutil.CollectAndCount(sink.attempts); c == 0 {
		t.Errorf("attempts not recorded")
	}

	if err := sink.RecordConnectedDrivers(17); err != nil {
		t.Fatalf("connected drivers error: %v", err)
	}
	if v := testutil.ToFloat64(sink.connected); v != 17 {
		t.Errorf("expected gauge 17, got %v", v)
	}
}

func TestPromSinkDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPromSinkWithRegistry(reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := NewPromSinkWithRegistry(reg); err != nil {
		t.Fatalf("second registration should reuse collectors: %v", err)
	}
}
