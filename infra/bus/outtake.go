package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/motovia/dispatch/core/events"
	corelogger "github.com/motovia/dispatch/core/logger"
	"github.com/motovia/dispatch/internal/eventbus"
)

// OrderAssignedMessage is the outbound assignment notification.
type OrderAssignedMessage struct {
	OrderID    string    `json:"order_id"`
	DriverID   string    `json:"driver_id"`
	Attempts   int       `json:"attempts"`
	AssignedAt time.Time `json:"assigned_at"`
}

// DispatchFailedMessage is the outbound failure notification.
type DispatchFailedMessage struct {
	OrderID  string    `json:"order_id"`
	Attempts int       `json:"attempts"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// Publisher sends a message on the dispatch exchange. Implemented by Client.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// publishAttempts bounds how often one outcome is retried before it is
// given up on. Outcomes are terminal so a loss is logged loudly.
const publishAttempts = 3

// Outtake forwards terminal assignment events from the internal bus to the
// broker, where the order service picks them up.
type Outtake struct {
	bus       eventbus.EventBus
	publisher Publisher
	log       corelogger.Logger
	retryWait time.Duration
}

// NewOuttake creates the outbound forwarder.
func NewOuttake(bus eventbus.EventBus, publisher Publisher, log corelogger.Logger) (*Outtake, error) {
	if bus == nil || publisher == nil || log == nil {
		return nil, errors.New("bus: nil parameter provided to NewOuttake")
	}
	return &Outtake{bus: bus, publisher: publisher, log: log, retryWait: 2 * time.Second}, nil
}

// Run forwards events until the context is cancelled or the subscription
// closes.
func (o *Outtake) Run(ctx context.Context) error {
	sub := o.bus.Subscribe()
	defer o.bus.Unsubscribe(sub)
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			o.forward(ctx, ev)
		case <-ctx.Done():
			return nil
		}
	}
}

func (o *Outtake) forward(ctx context.Context, ev eventbus.Event) {
	var (
		key     string
		payload any
	)
	switch e := ev.(type) {
	case events.OrderAssigned:
		key = KeyOrderAssigned
		payload = OrderAssignedMessage{
			OrderID:    e.OrderID,
			DriverID:   e.DriverID,
			Attempts:   e.Attempts,
			AssignedAt: e.AssignedAt,
		}
	case events.DispatchFailed:
		key = KeyDispatchFailed
		payload = DispatchFailedMessage{
			OrderID:  e.OrderID,
			Attempts: e.Attempts,
			Reason:   e.Reason,
			FailedAt: e.FailedAt,
		}
	default:
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		o.log.Errorf("marshal %s: %v", key, err)
		return
	}
	var lastErr error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(o.retryWait):
			case <-ctx.Done():
				o.log.Errorf("publish %s abandoned: %v", key, lastErr)
				return
			}
		}
		if lastErr = o.publisher.Publish(ctx, key, body); lastErr == nil {
			o.log.Debugf("published %s", key)
			return
		}
		o.log.Warnf("publish %s (attempt %d/%d): %v", key, attempt, publishAttempts, lastErr)
	}
	o.log.Errorf("publish %s dropped after %d attempts: %v", key, publishAttempts, lastErr)
}
