package metrics

import (
	"context"
	"time"

	"github.com/motovia/dispatch/core/events"
	coremetrics "github.com/motovia/dispatch/core/metrics"
	"github.com/motovia/dispatch/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and records metrics for
// events. It stops when the context is canceled.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink) {
	if bus == nil || sink == nil {
		return
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				switch e := ev.(type) {
				case events.OfferResolved:
					if r, ok := sink.(coremetrics.OfferRecorder); ok {
						errStr := ""
						if e.Err != nil {
							errStr = e.Err.Error()
						}
						_ = r.RecordOffer(coremetrics.OfferEvent{
							OrderID:  e.OrderID,
							DriverID: e.DriverID,
							OfferID:  e.OfferID,
							Attempt:  e.Attempt,
							Outcome:  e.Outcome,
							Latency:  e.Latency,
							Error:    errStr,
							Time:     time.Now(),
						})
					}
				}
			}
		}
	}()
}
