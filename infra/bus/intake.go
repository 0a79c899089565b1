package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/motovia/dispatch/core/geo"
	corelogger "github.com/motovia/dispatch/core/logger"
	"github.com/motovia/dispatch/core/model"
)

// OrderCreatedMessage is the inbound OrderCreated payload.
type OrderCreatedMessage struct {
	OrderID   string    `json:"order_id"`
	Pickup    PointDTO  `json:"pickup"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PointDTO is a coordinate pair on the wire.
type PointDTO struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Order converts the message to the domain order.
func (m OrderCreatedMessage) Order() (model.Order, error) {
	order := model.Order{
		ID:        m.OrderID,
		Pickup:    geo.Point{Lat: m.Pickup.Lat, Lon: m.Pickup.Lon},
		Tags:      m.Tags,
		CreatedAt: m.CreatedAt,
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	if err := order.Validate(); err != nil {
		return model.Order{}, err
	}
	return order, nil
}

// OrderHandler receives decoded orders. Implemented by the dispatch engine.
type OrderHandler interface {
	HandleOrder(ctx context.Context, order model.Order) error
}

// orderStream is the part of Client the intake needs. Narrowed so the
// consume loop can be exercised without a broker.
type orderStream interface {
	Consume(ctx context.Context) (<-chan amqp.Delivery, error)
	awaitReady(ctx context.Context) bool
}

// Intake consumes OrderCreated events from the broker and feeds them to the
// engine. A malformed message is logged and dropped; it would fail the same
// way on every redelivery.
type Intake struct {
	stream    orderStream
	handler   OrderHandler
	log       corelogger.Logger
	retryWait time.Duration
}

// NewIntake creates the order consumer.
func NewIntake(client *Client, handler OrderHandler, log corelogger.Logger) (*Intake, error) {
	if client == nil || handler == nil || log == nil {
		return nil, errors.New("bus: nil parameter provided to NewIntake")
	}
	return &Intake{stream: client, handler: handler, log: log, retryWait: reconnectInterval}, nil
}

// Run consumes until the context is cancelled. When the broker drops the
// delivery stream, Run waits for the connection to come back and opens a
// fresh consumer; it returns an error only once the reconnect budget is
// spent.
func (i *Intake) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		if err := i.consume(ctx); err != nil {
			i.log.Warnf("order consumer interrupted: %v", err)
		}
		if ctx.Err() != nil {
			break
		}
		if !i.stream.awaitReady(ctx) {
			if ctx.Err() == nil {
				return errors.New("broker connection lost")
			}
			break
		}
		// awaitReady can return at once when only the consumer died, so
		// pace the reopen attempts.
		select {
		case <-time.After(i.retryWait):
		case <-ctx.Done():
			continue
		}
		i.log.Infof("order consumer restarting")
	}
	return nil
}

func (i *Intake) consume(ctx context.Context) error {
	deliveries, err := i.stream.Consume(ctx)
	if err != nil {
		return fmt.Errorf("open consumer: %w", err)
	}
	i.log.Infof("consuming orders from %s", OrdersQueue)
	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("delivery stream closed")
			}
			i.handle(ctx, d)
		case <-ctx.Done():
			return nil
		}
	}
}

func (i *Intake) handle(ctx context.Context, d amqp.Delivery) {
	var msg OrderCreatedMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		i.log.Errorf("malformed order message dropped: %v", err)
		_ = d.Ack(false)
		return
	}
	order, err := msg.Order()
	if err != nil {
		i.log.Errorf("invalid order %q dropped: %v", msg.OrderID, err)
		_ = d.Ack(false)
		return
	}
	if err := i.handler.HandleOrder(ctx, order); err != nil {
		i.log.Errorf("order %s not accepted: %v", order.ID, err)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}
