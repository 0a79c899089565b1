// Package bus connects the engine to the order platform over AMQP. Orders
// come in on a durable queue; assignment outcomes go back out on the same
// exchange for the order service to consume.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	corelogger "github.com/motovia/dispatch/core/logger"
)

const (
	// Exchange is the direct exchange shared with the order platform.
	Exchange = "dispatch_exchange"
	// OrdersQueue receives OrderCreated events for this engine.
	OrdersQueue = "dispatch.orders"

	// Routing keys.
	KeyOrderCreated   = "order.created"
	KeyOrderAssigned  = "order.assigned"
	KeyDispatchFailed = "order.dispatch_failed"

	reconnectInterval = 5 * time.Second

	// maxReconnectAttempts bounds how long a broker outage is ridden out
	// before the client declares the connection lost for good.
	maxReconnectAttempts = 30
)

// Config holds the broker connection settings.
type Config struct {
	URL string `json:"url"`
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("amqp url is required")
	}
	return nil
}

// Client wraps one AMQP connection and channel with the dispatch topology
// declared, reconnecting with a fixed backoff when the broker drops us.
type Client struct {
	url string
	log corelogger.Logger

	mu           sync.Mutex
	conn         *amqp.Connection
	ch           *amqp.Channel
	reconnecting bool
	closed       bool
	down         bool
}

// Dial connects to the broker and declares the exchange and orders queue.
func Dial(cfg Config, log corelogger.Logger) (*Client, error) {
	if log == nil {
		return nil, errors.New("bus: nil logger provided to Dial")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{url: cfg.URL, log: log}
	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return c, nil
}

func (c *Client) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.ch = ch
	c.mu.Unlock()
	return nil
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(OrdersQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare orders queue: %w", err)
	}
	if err := ch.QueueBind(OrdersQueue, KeyOrderCreated, Exchange, false, nil); err != nil {
		return fmt.Errorf("bind orders queue: %w", err)
	}
	return nil
}

// Publish sends a persistent JSON message on the dispatch exchange.
func (c *Client) Publish(ctx context.Context, routingKey string, body []byte) error {
	c.mu.Lock()
	ch := c.ch
	alive := c.conn != nil && !c.conn.IsClosed()
	c.mu.Unlock()
	if !alive {
		go c.reconnect(ctx)
		return errors.New("broker connection is down")
	}
	return ch.PublishWithContext(ctx, Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Consume opens the delivery stream of the orders queue. Deliveries require
// an explicit ack.
func (c *Client) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	return ch.ConsumeWithContext(ctx, OrdersQueue, "dispatch-engine", false, false, false, false, nil)
}

// Alive reports whether the connection and channel are usable.
func (c *Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed() && c.ch != nil && !c.ch.IsClosed()
}

// awaitReady blocks until the connection is usable again, kicking off a
// reconnect if one is not already running. It returns false when the context
// is cancelled, the client has been closed, or the reconnect budget ran out.
func (c *Client) awaitReady(ctx context.Context) bool {
	if c.Alive() {
		return true
	}
	go c.reconnect(ctx)
	t := time.NewTicker(reconnectInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.mu.Lock()
			stop := c.closed || c.down
			c.mu.Unlock()
			if stop {
				return false
			}
			if c.Alive() {
				return true
			}
		case <-ctx.Done():
			return false
		}
	}
}

func (c *Client) reconnect(ctx context.Context) {
	c.mu.Lock()
	if c.reconnecting || c.closed || c.down {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	t := time.NewTicker(reconnectInterval)
	defer t.Stop()
	attempts := 0
	for {
		select {
		case <-t.C:
			attempts++
			if err := c.connect(); err != nil {
				c.log.Warnf("broker reconnect failed (attempt %d/%d): %v", attempts, maxReconnectAttempts, err)
				if attempts >= maxReconnectAttempts {
					c.log.Errorf("broker unreachable, giving up after %d attempts", attempts)
					c.mu.Lock()
					c.down = true
					c.reconnecting = false
					c.mu.Unlock()
					return
				}
				continue
			}
			c.log.Infof("broker reconnected")
			c.mu.Lock()
			c.reconnecting = false
			c.mu.Unlock()
			return
		case <-ctx.Done():
			return
		}
	}
}

// Close tears the channel and connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.ch != nil && !c.ch.IsClosed() {
		if err := c.ch.Close(); err != nil {
			return fmt.Errorf("close channel: %w", err)
		}
	}
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			return fmt.Errorf("close connection: %w", err)
		}
	}
	return nil
}
