package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/motovia/dispatch/core/metrics"
	"github.com/motovia/dispatch/infra/logger"
)

// InfluxSink writes dispatch activity to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and returns
// a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordAssignmentResult writes the terminal assignment record.
func (s *InfluxSink) RecordAssignmentResult(res coremetrics.AssignmentResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("assignment_result").
		AddTag("order_id", res.OrderID).
		AddTag("assigned", strconv.FormatBool(res.Assigned)).
		AddTag("component", "dispatch_engine")
	if res.DriverID != "" {
		p = p.AddTag("driver_id", res.DriverID)
	}
	if res.Reason != "" {
		p = p.AddTag("reason", res.Reason)
	}
	p = p.AddField("attempts", res.Attempts).
		AddField("total_delay_ms", res.TotalDelay.Milliseconds()).
		SetTime(res.DecidedAt)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordOffer writes one offer resolution.
func (s *InfluxSink) RecordOffer(ev coremetrics.OfferEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("offer_resolved").
		AddTag("order_id", ev.OrderID).
		AddTag("driver_id", ev.DriverID).
		AddTag("offer_id", ev.OfferID).
		AddTag("outcome", ev.Outcome).
		AddTag("component", "dispatch_engine").
		AddField("attempt", ev.Attempt).
		AddField("latency_ms", ev.Latency.Milliseconds()).
		AddField("errors", ev.Error).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordConnectedDrivers writes a snapshot of the connected driver pool.
func (s *InfluxSink) RecordConnectedDrivers(count int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("connected_drivers").
		AddTag("component", "ws_gateway").
		AddField("count", count).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}
